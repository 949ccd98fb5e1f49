package builtin

import (
	"strconv"
	"strings"

	"github.com/stratadb/strata/lib/command"
	"github.com/stratadb/strata/lib/db"
	"github.com/stratadb/strata/lib/plugin"
)

// --------------------------------------------------------------------------
// DB Plugin
// --------------------------------------------------------------------------

type dbPlugin struct{}

// NewDB creates the DB plugin, which exposes raw SQL through the "Query"
// command.
func NewDB() plugin.Plugin {
	return &dbPlugin{}
}

func (p *dbPlugin) Name() string {
	return "DB"
}

// Peek completes read-only queries. Write queries are validated here and
// left for Process so they run inside the replicated transaction.
func (p *dbPlugin) Peek(h plugin.Host, d *db.DB, cmd *command.Command) (bool, error) {
	if !strings.EqualFold(cmd.Request.Method, "Query") {
		return false, nil
	}
	query, ok := cmd.Request.Headers.Get("query")
	if !ok || strings.TrimSpace(query) == "" {
		return false, command.NewError("402 Missing query")
	}
	if !isReadQuery(query) {
		return false, nil
	}

	res, err := d.Read(query)
	if err != nil {
		log.Warningf("query failed during peek: %v", err)
		return false, command.NewError("502 Query failed")
	}
	fillResult(cmd, res)
	return true, nil
}

// Process executes the query inside the open write transaction. Read
// queries that reach this far are answered the same way as during peek.
func (p *dbPlugin) Process(h plugin.Host, d *db.DB, cmd *command.Command) (bool, error) {
	if !strings.EqualFold(cmd.Request.Method, "Query") {
		return false, nil
	}
	query, ok := cmd.Request.Headers.Get("query")
	if !ok || strings.TrimSpace(query) == "" {
		return false, command.NewError("402 Missing query")
	}

	if isReadQuery(query) {
		res, err := d.Read(query)
		if err != nil {
			log.Warningf("query failed during process: %v", err)
			return false, command.NewError("502 Query failed")
		}
		fillResult(cmd, res)
		return true, nil
	}

	if err := d.Write(query); err != nil {
		log.Warningf("write query failed: %v", err)
		return false, command.NewError("502 Query failed")
	}
	return true, nil
}

func (p *dbPlugin) UpgradeSchema(h plugin.Host, d *db.DB) error {
	return nil
}

// isReadQuery reports whether the statement's leading keyword marks it as
// read-only.
func isReadQuery(query string) bool {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return false
	}
	switch strings.ToUpper(fields[0]) {
	case "SELECT", "EXPLAIN":
		return true
	}
	return false
}

// fillResult copies a query result into the command content.
func fillResult(cmd *command.Command, res *db.Result) {
	cmd.Content.Set("headers", command.ComposeJSONList(res.Headers))
	rows := make([]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		rows = append(rows, command.ComposeJSONList(row))
	}
	cmd.Content.Set("rows", "["+strings.Join(rows, ",")+"]")
	cmd.Content.Set("rowCount", strconv.Itoa(len(res.Rows)))
}
