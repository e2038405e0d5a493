package main

import (
	"testing"

	"github.com/spf13/cobra"

	"github.com/jfoltran/cdcingester/internal/config"
)

func TestApplyExplicitFlags_OnlySetFlagsOverlay(t *testing.T) {
	cfg = config.Defaults()
	cfg.DB.Host = "from-file"
	cfg.Replication.SlotName = "from-file-slot"

	cmd := &cobra.Command{Use: "test"}
	f := cmd.Flags()
	f.String("db-host", "", "")
	f.Uint16("db-port", 0, "")
	f.String("db-user", "", "")
	f.String("db-password", "", "")
	f.String("db-name", "", "")
	f.String("slot", "", "")
	f.String("publication", "", "")
	f.String("listen", "", "")
	f.Int("port", 0, "")
	f.String("log-level", "", "")
	f.String("log-format", "", "")

	if err := f.Parse([]string{"--db-host=flag-host", "--port=9999"}); err != nil {
		t.Fatalf("parse: %v", err)
	}

	applyExplicitFlags(cmd)

	if cfg.DB.Host != "flag-host" {
		t.Errorf("DB.Host = %q, want flag-host", cfg.DB.Host)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Replication.SlotName != "from-file-slot" {
		t.Errorf("unset flag clobbered loaded value: SlotName = %q", cfg.Replication.SlotName)
	}
}
