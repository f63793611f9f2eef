package equip

import (
	"context"
	"fmt"
	"strconv"

	"github.com/juju/errors"

	"github.com/wireddown/snsrhost/log2"
	"github.com/wireddown/snsrhost/proto"
)

// Executor is the one session capability equip needs. *session.Session
// satisfies it.
type Executor interface {
	Execute(ctx context.Context, cmd *proto.Command) (*proto.Response, error)
	MaxPayload() int
}

type Outcome string

const (
	OutcomeWritten Outcome = "written"
	OutcomeSkipped Outcome = "skipped" // hash already matches
	OutcomeFailed  Outcome = "failed"
	OutcomeAborted Outcome = "aborted" // not attempted after an earlier failure
)

type FileOutcome struct {
	Path    string
	Outcome Outcome
	Detail  string
}

// Report is the per-file account of one equip run. The device ends in a
// known, reported state even on failure, and a re-run skips everything that
// already matches.
type Report struct {
	BundleVersion string
	DeviceVersion string
	Files         []FileOutcome
	Extra         []string // on device but not in the manifest, never deleted
	Verified      bool
}

func (r *Report) count(o Outcome) int {
	n := 0
	for _, f := range r.Files {
		if f.Outcome == o {
			n++
		}
	}
	return n
}

func (r *Report) Written() int { return r.count(OutcomeWritten) }
func (r *Report) Skipped() int { return r.count(OutcomeSkipped) }

func (r *Report) Lines() []string {
	lines := []string{fmt.Sprintf("bundle=%s device=%s written=%d skipped=%d verified=%t",
		r.BundleVersion, orDash(r.DeviceVersion), r.Written(), r.Skipped(), r.Verified)}
	for _, f := range r.Files {
		if f.Outcome == OutcomeSkipped {
			continue
		}
		line := fmt.Sprintf("  %-8s %s", f.Outcome, f.Path)
		if f.Detail != "" {
			line += " (" + f.Detail + ")"
		}
		lines = append(lines, line)
	}
	for _, p := range r.Extra {
		lines = append(lines, "  extra    "+p+" (left on device)")
	}
	return lines
}

// PartialFailure reports an equip run that stopped partway. Not fatal to the
// session; the caller may re-run equip idempotently.
type PartialFailure struct {
	Report *Report
	Cause  error
}

func (e *PartialFailure) Error() string {
	return fmt.Sprintf("equip stopped partway (written=%d): %v", e.Report.Written(), e.Cause)
}
func (e *PartialFailure) Unwrap() error { return e.Cause }

func IsPartialFailure(err error) bool {
	var pf *PartialFailure
	return errors.As(err, &pf)
}

// Equip reconciles bundle against the node behind x: inventory, transfer the
// missing and stale entries, verify. Chunk transfers use whatever retry
// policy the session carries; if one transfer exhausts its retries the
// remaining plan is aborted and reported rather than guessed at.
func Equip(ctx context.Context, x Executor, bundle *Bundle, log *log2.Log) (*Report, error) {
	report := &Report{BundleVersion: bundle.Version}

	inv, err := fetchInventory(ctx, x, proto.VerbInventory)
	if err != nil {
		return report, errors.Annotate(err, "inventory")
	}
	report.DeviceVersion = inv.Version
	installed := inv.byPath()

	inManifest := make(map[string]struct{}, len(bundle.Files))
	plan := make([]Entry, 0, len(bundle.Files))
	for _, e := range bundle.Files {
		inManifest[e.Path] = struct{}{}
		if have, ok := installed[e.Path]; ok && have.Hash == e.Hash {
			report.Files = append(report.Files, FileOutcome{Path: e.Path, Outcome: OutcomeSkipped})
			continue
		}
		plan = append(plan, e)
	}
	for _, e := range inv.Files {
		if _, ok := inManifest[e.Path]; !ok {
			report.Extra = append(report.Extra, e.Path)
		}
	}

	log.Infof("equip bundle=%s device=%s transfer=%d skip=%d extra=%d",
		bundle.Version, orDash(inv.Version), len(plan), report.Skipped(), len(report.Extra))

	for i, e := range plan {
		if err := writeFile(ctx, x, bundle, e, log); err != nil {
			report.Files = append(report.Files, FileOutcome{Path: e.Path, Outcome: OutcomeFailed, Detail: err.Error()})
			for _, rest := range plan[i+1:] {
				report.Files = append(report.Files, FileOutcome{Path: rest.Path, Outcome: OutcomeAborted})
			}
			return report, &PartialFailure{Report: report, Cause: err}
		}
		report.Files = append(report.Files, FileOutcome{Path: e.Path, Outcome: OutcomeWritten})
	}

	final, err := fetchInventory(ctx, x, proto.VerbVerify)
	if err != nil {
		return report, &PartialFailure{Report: report, Cause: errors.Annotate(err, "verify")}
	}
	onDevice := final.byPath()
	for _, e := range bundle.Files {
		have, ok := onDevice[e.Path]
		if !ok || have.Hash != e.Hash {
			detail := "missing after transfer"
			if ok {
				detail = fmt.Sprintf("hash mismatch want=%s got=%s", shortHash(e.Hash), shortHash(have.Hash))
			}
			return report, &PartialFailure{Report: report, Cause: errors.Errorf("verify %s: %s", e.Path, detail)}
		}
	}
	report.Verified = true
	return report, nil
}

// Compare is the dry-run path for `equip --compare`: inventory only, no
// writes, the plan is reported instead of executed.
func Compare(ctx context.Context, x Executor, bundle *Bundle) (*Report, error) {
	report := &Report{BundleVersion: bundle.Version}
	inv, err := fetchInventory(ctx, x, proto.VerbInventory)
	if err != nil {
		return report, errors.Annotate(err, "inventory")
	}
	report.DeviceVersion = inv.Version
	installed := inv.byPath()
	inManifest := make(map[string]struct{}, len(bundle.Files))
	for _, e := range bundle.Files {
		inManifest[e.Path] = struct{}{}
		if have, ok := installed[e.Path]; ok && have.Hash == e.Hash {
			report.Files = append(report.Files, FileOutcome{Path: e.Path, Outcome: OutcomeSkipped})
		} else {
			report.Files = append(report.Files, FileOutcome{Path: e.Path, Outcome: OutcomeAborted, Detail: "would transfer"})
		}
	}
	for _, e := range inv.Files {
		if _, ok := inManifest[e.Path]; !ok {
			report.Extra = append(report.Extra, e.Path)
		}
	}
	return report, nil
}

func fetchInventory(ctx context.Context, x Executor, verb string) (*Inventory, error) {
	resp, err := x.Execute(ctx, proto.NewCommand(verb))
	if err != nil {
		return nil, errors.Trace(err)
	}
	if resp.Status != proto.StatusOk {
		return nil, errors.Errorf("%s status=%s message=%s", verb, resp.Status, resp.Message)
	}
	return DecodeInventory(resp.Payload)
}

// envelopeOverhead reserves room for the JSON envelope and base64 growth
// around each chunk.
const envelopeOverhead = 192

func chunkSize(maxPayload int) int {
	usable := maxPayload - envelopeOverhead
	if usable < 64 {
		usable = 64
	}
	// base64 inflates 4/3
	return usable * 3 / 4
}

func writeFile(ctx context.Context, x Executor, bundle *Bundle, e Entry, log *log2.Log) error {
	content, err := bundle.Open(e)
	if err != nil {
		return errors.Trace(err)
	}
	chunk := chunkSize(x.MaxPayload())
	total := len(content)
	for off := 0; off == 0 || off < total; off += chunk {
		end := off + chunk
		if end > total {
			end = total
		}
		last := end == total
		cmd := proto.NewCommand(proto.VerbWriteFile,
			proto.Arg{Name: "path", Value: e.Path},
			proto.Arg{Name: "offset", Value: strconv.Itoa(off)},
			proto.Arg{Name: "total", Value: strconv.Itoa(total)},
			proto.Arg{Name: "last", Value: strconv.FormatBool(last)},
		)
		cmd.Payload = content[off:end]
		resp, err := x.Execute(ctx, cmd)
		if err != nil {
			return errors.Annotatef(err, "chunk offset=%d", off)
		}
		if resp.Status != proto.StatusOk {
			return errors.Errorf("chunk offset=%d status=%s message=%s", off, resp.Status, resp.Message)
		}
		log.Debugf("equip wrote %s [%d:%d]/%d", e.Path, off, end, total)
		if last {
			break
		}
	}
	return nil
}
