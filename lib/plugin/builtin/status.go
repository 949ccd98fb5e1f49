package builtin

import (
	"strconv"
	"strings"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/stratadb/strata/lib/command"
	"github.com/stratadb/strata/lib/db"
	"github.com/stratadb/strata/lib/plugin"
)

var log = logger.GetLogger("plugin")

// --------------------------------------------------------------------------
// Status Plugin
// --------------------------------------------------------------------------

type statusPlugin struct {
	started time.Time
}

// NewStatus creates the Status plugin.
func NewStatus() plugin.Plugin {
	return &statusPlugin{started: time.Now()}
}

func (p *statusPlugin) Name() string {
	return "Status"
}

// Peek answers Ping and Status. Both are pure reads and always complete
// here.
func (p *statusPlugin) Peek(h plugin.Host, d *db.DB, cmd *command.Command) (bool, error) {
	switch {
	case strings.EqualFold(cmd.Request.Method, "Ping"):
		cmd.Content.Set("timestamp", time.Now().UTC().Format("2006-01-02 15:04:05"))
		return true, nil

	case strings.EqualFold(cmd.Request.Method, "Status"):
		cmd.Content.Set("nodeName", h.NodeName())
		cmd.Content.Set("version", h.Version())
		cmd.Content.Set("state", h.State())
		cmd.Content.Set("readOnly", strconv.FormatBool(h.ReadOnly()))
		cmd.Content.Set("commitCount", strconv.FormatUint(d.CommitCount(), 10))
		cmd.Content.Set("plugins", command.ComposeJSONList(h.Plugins()))
		cmd.Content.Set("openOutbound", strconv.Itoa(h.Outbound().Outstanding()))
		cmd.Content.Set("uptime", time.Since(p.started).Round(time.Second).String())
		return true, nil
	}
	return false, nil
}

// Process never claims: every Status command completes during peek.
func (p *statusPlugin) Process(h plugin.Host, d *db.DB, cmd *command.Command) (bool, error) {
	return false, nil
}

func (p *statusPlugin) UpgradeSchema(h plugin.Host, d *db.DB) error {
	return nil
}
