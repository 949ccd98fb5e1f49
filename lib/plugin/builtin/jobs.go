package builtin

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stratadb/strata/lib/command"
	"github.com/stratadb/strata/lib/db"
	"github.com/stratadb/strata/lib/plugin"
)

// sqlTimeLayout is the DATETIME format stored in job rows. Timestamps are
// rendered on the leader and travel inside the replicated query text, so
// followers never consult their own clocks.
const sqlTimeLayout = "2006-01-02 15:04:05"

// jobColumns is the fixed SELECT list parseJobRow expects.
const jobColumns = "jobID, state, name, repeat, webhook, data, created, nextRun, lastRun"

// --------------------------------------------------------------------------
// Jobs Plugin
// --------------------------------------------------------------------------

type jobsPlugin struct{}

// NewJobs creates the Jobs plugin, a persistent job queue with repeat
// scheduling and optional webhook notification on finish.
func NewJobs() plugin.Plugin {
	return &jobsPlugin{}
}

func (p *jobsPlugin) Name() string {
	return "Jobs"
}

// UpgradeSchema creates the jobs table inside the node's upgrade
// transaction.
func (p *jobsPlugin) UpgradeSchema(h plugin.Host, d *db.DB) error {
	if err := d.Write(`CREATE TABLE IF NOT EXISTS jobs (
    jobID   INTEGER PRIMARY KEY AUTOINCREMENT,
    state   TEXT NOT NULL,
    name    TEXT NOT NULL,
    repeat  TEXT NOT NULL DEFAULT '',
    webhook TEXT NOT NULL DEFAULT '',
    data    TEXT NOT NULL DEFAULT '{}',
    created TEXT NOT NULL,
    nextRun TEXT NOT NULL,
    lastRun TEXT NOT NULL DEFAULT ''
);`); err != nil {
		return err
	}
	return d.Write("CREATE INDEX IF NOT EXISTS jobsStateNextRun ON jobs (state, nextRun);")
}

// Peek validates commands before a transaction is opened and answers the
// ones that never need one. FinishJob additionally opens the webhook
// sub-request here so its outcome is known by the time the finishing write
// runs.
func (p *jobsPlugin) Peek(h plugin.Host, d *db.DB, cmd *command.Command) (bool, error) {
	switch {
	case strings.EqualFold(cmd.Request.Method, "CreateJob"):
		name, ok := cmd.Request.Headers.Get("name")
		if !ok || strings.TrimSpace(name) == "" {
			return false, command.NewError("402 Missing name")
		}
		if repeat := cmd.Request.Headers.GetDefault("repeat", ""); repeat != "" {
			if _, err := computeNextRun(time.Now(), repeat); err != nil {
				log.Warningf("rejecting CreateJob: %v", err)
				return false, command.NewError("402 Malformed repeat")
			}
		}
		return false, nil

	case strings.EqualFold(cmd.Request.Method, "GetJob"):
		// A command for an empty queue fails here, before the write
		// transaction is opened.
		now := time.Now().UTC().Format(sqlTimeLayout)
		job, err := nextReadyJob(d, cmd.Request.Headers.GetDefault("name", ""), now)
		if err != nil {
			return false, err
		}
		if job == nil {
			return false, command.NewError("404 No job found")
		}
		return false, nil

	case strings.EqualFold(cmd.Request.Method, "FinishJob"):
		if !cmd.Request.Headers.Has("jobID") {
			return false, command.NewError("402 Missing jobID")
		}
		job, err := lookupJob(d, cmd.Request.Headers.Int64("jobID"))
		if err != nil {
			return false, err
		}
		if job == nil {
			return false, command.NewError("404 No job with this jobID")
		}
		if job.state != "RUNNING" {
			return false, command.NewError("405 Can only finish a RUNNING job")
		}
		if job.webhook != "" && cmd.SubRequest == nil {
			body := command.NewTable()
			body.Set("event", "finished")
			body.Set("jobID", strconv.FormatInt(job.jobID, 10))
			body.Set("name", job.name)
			cmd.SubRequest = h.Outbound().OpenTransaction("POST", job.webhook, body.ComposeJSON())
		}
		return false, nil

	case strings.EqualFold(cmd.Request.Method, "QueryJob"):
		if !cmd.Request.Headers.Has("jobID") {
			return false, command.NewError("402 Missing jobID")
		}
		job, err := lookupJob(d, cmd.Request.Headers.Int64("jobID"))
		if err != nil {
			return false, err
		}
		if job == nil {
			return false, command.NewError("404 No job with this jobID")
		}
		fillJob(cmd, job)
		return true, nil
	}
	return false, nil
}

// Process applies the queue mutations inside the open write transaction.
func (p *jobsPlugin) Process(h plugin.Host, d *db.DB, cmd *command.Command) (bool, error) {
	finished := time.Now().UTC()
	now := finished.Format(sqlTimeLayout)

	switch {
	case strings.EqualFold(cmd.Request.Method, "CreateJob"):
		name := cmd.Request.Headers.GetDefault("name", "")
		if strings.TrimSpace(name) == "" {
			return false, command.NewError("402 Missing name")
		}
		firstRun := cmd.Request.Headers.GetDefault("firstRun", now)
		query := "INSERT INTO jobs (state, name, repeat, webhook, data, created, nextRun) VALUES (" +
			"'QUEUED', " +
			db.SQ(name) + ", " +
			db.SQ(cmd.Request.Headers.GetDefault("repeat", "")) + ", " +
			db.SQ(cmd.Request.Headers.GetDefault("webhook", "")) + ", " +
			db.SQ(cmd.Request.Headers.GetDefault("data", "{}")) + ", " +
			db.SQ(now) + ", " +
			db.SQ(firstRun) + ");"
		if err := d.Write(query); err != nil {
			return false, err
		}
		res, err := d.Read("SELECT last_insert_rowid();")
		if err != nil {
			return false, err
		}
		jobID, _ := res.Scalar()
		cmd.Content.Set("jobID", jobID)
		return true, nil

	case strings.EqualFold(cmd.Request.Method, "GetJob"):
		job, err := nextReadyJob(d, cmd.Request.Headers.GetDefault("name", ""), now)
		if err != nil {
			return false, err
		}
		if job == nil {
			return false, command.NewError("404 No job found")
		}
		if err := d.Write("UPDATE jobs SET state = 'RUNNING', lastRun = " + db.SQ(now) +
			" WHERE jobID = " + db.SQ(job.jobID) + ";"); err != nil {
			return false, err
		}
		cmd.Content.Set("jobID", strconv.FormatInt(job.jobID, 10))
		cmd.Content.Set("name", job.name)
		cmd.Content.Set("data", job.data)
		return true, nil

	case strings.EqualFold(cmd.Request.Method, "FinishJob"):
		job, err := lookupJob(d, cmd.Request.Headers.Int64("jobID"))
		if err != nil {
			return false, err
		}
		if job == nil {
			return false, command.NewError("404 No job with this jobID")
		}
		if job.state != "RUNNING" {
			return false, command.NewError("405 Can only finish a RUNNING job")
		}

		if job.repeat != "" {
			nextRun, repeatErr := computeNextRun(finished, job.repeat)
			if repeatErr != nil {
				return false, command.NewError("402 Malformed repeat")
			}
			if err := d.Write("UPDATE jobs SET state = 'QUEUED', nextRun = " + db.SQ(nextRun.Format(sqlTimeLayout)) +
				", lastRun = " + db.SQ(now) + " WHERE jobID = " + db.SQ(job.jobID) + ";"); err != nil {
				return false, err
			}
			cmd.Content.Set("nextRun", nextRun.Format(sqlTimeLayout))
		} else {
			if err := d.Write("DELETE FROM jobs WHERE jobID = " + db.SQ(job.jobID) + ";"); err != nil {
				return false, err
			}
		}

		if cmd.SubRequest != nil {
			if cmd.SubRequest.Err != nil {
				cmd.Content.Set("webhookStatus", "failed")
			} else {
				cmd.Content.Set("webhookStatus", strconv.Itoa(cmd.SubRequest.StatusCode))
			}
		}
		return true, nil
	}
	return false, nil
}

// --------------------------------------------------------------------------
// Job Rows
// --------------------------------------------------------------------------

type jobRow struct {
	jobID   int64
	state   string
	name    string
	repeat  string
	webhook string
	data    string
	created string
	nextRun string
	lastRun string
}

// parseJobRow maps a row selected with jobColumns.
func parseJobRow(row []string) *jobRow {
	id, _ := strconv.ParseInt(row[0], 10, 64)
	return &jobRow{
		jobID:   id,
		state:   row[1],
		name:    row[2],
		repeat:  row[3],
		webhook: row[4],
		data:    row[5],
		created: row[6],
		nextRun: row[7],
		lastRun: row[8],
	}
}

// lookupJob returns the job with the given ID, or nil if it does not exist.
func lookupJob(d *db.DB, jobID int64) (*jobRow, error) {
	res, err := d.Read("SELECT " + jobColumns + " FROM jobs WHERE jobID = " + db.SQ(jobID) + ";")
	if err != nil {
		return nil, err
	}
	if res.Empty() {
		return nil, nil
	}
	return parseJobRow(res.Rows[0]), nil
}

// nextReadyJob returns the oldest QUEUED job due to run, optionally
// filtered by a name GLOB pattern, or nil if none is ready.
func nextReadyJob(d *db.DB, pattern, now string) (*jobRow, error) {
	query := "SELECT " + jobColumns + " FROM jobs WHERE state = 'QUEUED' AND nextRun <= " + db.SQ(now)
	if pattern != "" {
		query += " AND name GLOB " + db.SQ(pattern)
	}
	query += " ORDER BY nextRun ASC, jobID ASC LIMIT 1;"

	res, err := d.Read(query)
	if err != nil {
		return nil, err
	}
	if res.Empty() {
		return nil, nil
	}
	return parseJobRow(res.Rows[0]), nil
}

// fillJob copies a job row into the command content.
func fillJob(cmd *command.Command, job *jobRow) {
	cmd.Content.Set("jobID", strconv.FormatInt(job.jobID, 10))
	cmd.Content.Set("state", job.state)
	cmd.Content.Set("name", job.name)
	cmd.Content.Set("repeat", job.repeat)
	cmd.Content.Set("webhook", job.webhook)
	cmd.Content.Set("data", job.data)
	cmd.Content.Set("created", job.created)
	cmd.Content.Set("nextRun", job.nextRun)
	cmd.Content.Set("lastRun", job.lastRun)
}

// --------------------------------------------------------------------------
// Repeat Scheduling
// --------------------------------------------------------------------------

// computeNextRun applies a repeat specification to the finish time. The
// specification is a comma-separated list of modifiers like "+1 DAY" or
// "+30 MINUTES".
func computeNextRun(from time.Time, repeat string) (time.Time, error) {
	next := from
	for _, part := range strings.Split(repeat, ",") {
		fields := strings.Fields(strings.TrimSpace(part))
		if len(fields) != 2 {
			return time.Time{}, fmt.Errorf("malformed repeat modifier %q", part)
		}
		n, err := strconv.Atoi(strings.TrimPrefix(fields[0], "+"))
		if err != nil || n < 0 {
			return time.Time{}, fmt.Errorf("malformed repeat amount %q", fields[0])
		}
		switch strings.ToUpper(fields[1]) {
		case "SECOND", "SECONDS":
			next = next.Add(time.Duration(n) * time.Second)
		case "MINUTE", "MINUTES":
			next = next.Add(time.Duration(n) * time.Minute)
		case "HOUR", "HOURS":
			next = next.Add(time.Duration(n) * time.Hour)
		case "DAY", "DAYS":
			next = next.AddDate(0, 0, n)
		default:
			return time.Time{}, fmt.Errorf("unknown repeat unit %q", fields[1])
		}
	}
	return next, nil
}
