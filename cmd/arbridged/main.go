// Command arbridged runs an arbridge node and talks to one.
//
//	arbridged run           --config node.json
//	arbridged create-task   --config node.json --seed <hex> --worker <account> --data '{"k":1}' --amount 10
//	arbridged toggle-signer --config node.json
//	arbridged keygen        [--wallet wallet.json]
package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/mohans/arbridge"
	"github.com/mohans/arbridge/internal/logging"
	"github.com/mohans/arbridge/offchain"
	"github.com/mohans/arbridge/pallet"
	"github.com/mohans/arbridge/txpool"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "run":
		err = runNode(args)
	case "create-task":
		err = createTask(args)
	case "toggle-signer":
		err = toggleSigner(args)
	case "keygen":
		err = keygen(args)
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "arbridged %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: arbridged <run|create-task|toggle-signer|keygen> [flags]")
}

func loadConfig(fs *pflag.FlagSet, args []string) (arbridge.Config, error) {
	path := fs.StringP("config", "c", "", "path to the JSON config file")
	if err := fs.Parse(args); err != nil {
		return arbridge.Config{}, err
	}
	return arbridge.LoadConfig(*path)
}

func runNode(args []string) error {
	fs := pflag.NewFlagSet("run", pflag.ExitOnError)
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	log := logging.New("arbridged", cfg.Debug)

	ctx := context.Background()
	node, err := arbridge.OpenNode(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer node.Close()

	admin := &http.Server{
		Addr:              cfg.AdminAddr,
		Handler:           arbridge.AdminHandler(node.Signer),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Infof("admin listening on %s", cfg.AdminAddr)
		if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("admin server: %v", err)
		}
	}()

	log.Infof("node started: signer=%s enabled=%t", node.Signer.Address(), node.Signer.Enabled())
	// blocks until SIGINT/SIGTERM
	runErr := node.Processor.Start()
	node.Processor.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_ = admin.Shutdown(shutdownCtx)
	return runErr
}

func createTask(args []string) error {
	fs := pflag.NewFlagSet("create-task", pflag.ExitOnError)
	seed := fs.String("seed", "", "hex ed25519 seed of the submitting account")
	worker := fs.String("worker", "", "account paid when the task clears")
	data := fs.String("data", "", "JSON document to archive")
	amount := fs.Uint64("amount", 0, "payment escrowed for the worker")
	tips := fs.Uint64("tips", 0, "extra tip escrowed for the worker")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if *seed == "" || *worker == "" {
		return errors.New("--seed and --worker are required")
	}
	kp, err := offchain.KeypairFromHex(*seed)
	if err != nil {
		return err
	}
	call := pallet.CreateTaskCall(pallet.AccountID(*worker), []byte(*data), pallet.Balance(*amount), pallet.Balance(*tips))
	xt, err := offchain.SignExtrinsic(kp, call)
	if err != nil {
		return err
	}

	pool := txpool.NewClient(cfg.RedisOpt(), nil, txpool.ClientOptions{})
	defer pool.Close()
	info, err := pool.Enqueue(context.Background(), xt)
	if err != nil {
		return err
	}
	fmt.Printf("submitted %s from %s to queue %s\n", info.ID, kp.AccountID(), info.Queue)
	return nil
}

func toggleSigner(args []string) error {
	fs := pflag.NewFlagSet("toggle-signer", pflag.ExitOnError)
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	resp, err := http.Post("http://"+cfg.AdminAddr+"/arweaveSigner/toggleEnable", "application/json", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("admin returned %d: %s", resp.StatusCode, b)
	}
	var out struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return err
	}
	fmt.Printf("arweave signer enabled: %t\n", out.Enabled)
	return nil
}

func keygen(args []string) error {
	fs := pflag.NewFlagSet("keygen", pflag.ExitOnError)
	wallet := fs.String("wallet", "", "also write a new arweave JWK wallet to this path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return err
	}
	kp, err := offchain.NewKeypair(seed)
	if err != nil {
		return err
	}
	fmt.Printf("seed:    %s\naccount: %s\n", hex.EncodeToString(seed), kp.AccountID())

	if *wallet == "" {
		return nil
	}
	key, err := rsa.GenerateKey(rand.Reader, 4096)
	if err != nil {
		return err
	}
	raw, err := offchain.EncodeWallet(key)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*wallet, raw, 0o600); err != nil {
		return err
	}
	fmt.Printf("wallet:  %s (address %s)\n", *wallet, offchain.NewRSASigner(key, false).Address())
	return nil
}
