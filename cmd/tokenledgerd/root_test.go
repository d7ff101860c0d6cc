package main

import (
	"context"
	"testing"

	"github.com/spf13/viper"

	audithook "github.com/xraph/tokenledger/audit_hook"
)

func TestFlagsBindToViper(t *testing.T) {
	cmd := newRootCmd()
	serve, _, err := cmd.Find([]string{"serve"})
	if err != nil {
		t.Fatalf("find serve: %v", err)
	}
	if err := serve.Flags().Set("addr", ":9999"); err != nil {
		t.Fatalf("set flag: %v", err)
	}

	v := viper.New()
	t.Setenv("TOKENLEDGER_BASE_PATH", "/v2/tokens")
	if err := loadConfig(v, serve); err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if got := v.GetString("addr"); got != ":9999" {
		t.Errorf("addr = %q", got)
	}
	if got := v.GetString("base-path"); got != "/v2/tokens" {
		t.Errorf("base-path = %q, want env override", got)
	}
}

func TestSlogRecorder(t *testing.T) {
	rec := slogRecorder(newLogger("debug"))
	if err := rec.Record(context.Background(), &audithook.AuditEvent{Action: audithook.ActionPlanCreated}); err != nil {
		t.Fatalf("Record: %v", err)
	}
}
