package arbridge

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mohans/arbridge/pallet"
)

func TestLoadConfig_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.json")
	raw := `{
		"redis_addr": "redis:6379",
		"local_store": "memory",
		"block_time": "2s",
		"max_data_length": 128,
		"genesis": {"alice": 500}
	}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ARB_SIGNER_ENABLED", "true")
	t.Setenv("ARB_EXISTENTIAL_DEPOSIT", "7")
	t.Setenv("ARB_SIGNER_SEEDS", " aa , ,bb")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.RedisAddr != "redis:6379" || cfg.LocalStore != LocalStoreMemory {
		t.Fatalf("file values not applied: %#v", cfg)
	}
	if cfg.AdminAddr != "127.0.0.1:9945" {
		t.Fatalf("default admin addr lost: %q", cfg.AdminAddr)
	}
	if !cfg.SignerEnabled || cfg.ExistentialDeposit != 7 {
		t.Fatalf("env overrides not applied: enabled=%t ed=%d", cfg.SignerEnabled, cfg.ExistentialDeposit)
	}
	if len(cfg.SignerSeeds) != 2 || cfg.SignerSeeds[0] != "aa" || cfg.SignerSeeds[1] != "bb" {
		t.Fatalf("unexpected seeds: %q", cfg.SignerSeeds)
	}
	if d, _ := cfg.BlockInterval(); d != 2*time.Second {
		t.Fatalf("block interval = %s", d)
	}
	limits := cfg.Limits()
	if limits.MaxDataLength != 128 || limits.MaxTxHashLength != pallet.DefaultLimits().MaxTxHashLength {
		t.Fatalf("unexpected limits: %#v", limits)
	}
	if got := cfg.Endowments()["alice"]; got != 500 {
		t.Fatalf("alice endowment = %d", got)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("ARB_LOCAL_STORE", "etcd")
	if _, err := LoadConfig(""); err == nil {
		t.Fatalf("expected error for unknown local store")
	}
	t.Setenv("ARB_LOCAL_STORE", "memory")
	t.Setenv("ARB_BLOCK_TIME", "soon")
	if _, err := LoadConfig(""); err == nil {
		t.Fatalf("expected error for bad block time")
	}
	t.Setenv("ARB_BLOCK_TIME", "6s")
	t.Setenv("ARB_REDIS_DB", "x")
	if _, err := LoadConfig(""); err == nil {
		t.Fatalf("expected error for bad redis db")
	}
}

type switchStub struct{ on bool }

func (s *switchStub) Enabled() bool { return s.on }

func (s *switchStub) Toggle() bool {
	s.on = !s.on
	return s.on
}

func TestAdminHandler(t *testing.T) {
	sw := &switchStub{}
	srv := httptest.NewServer(AdminHandler(sw))
	defer srv.Close()

	read := func(resp *http.Response) bool {
		t.Helper()
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		var out struct {
			Enabled bool `json:"enabled"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return out.Enabled
	}

	resp, err := http.Post(srv.URL+"/arweaveSigner/toggleEnable", "application/json", nil)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !read(resp) || !sw.on {
		t.Fatalf("toggle did not enable the signer")
	}
	resp, err = http.Get(srv.URL + "/arweaveSigner/enabled")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !read(resp) {
		t.Fatalf("expected enabled")
	}

	resp, err = http.Get(srv.URL + "/arweaveSigner/toggleEnable")
	if err != nil {
		t.Fatalf("get toggle: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET toggle status = %d, want 405", resp.StatusCode)
	}
}
