// Package kb implements the knowledge base: the persistent, deduplicating
// store through which scanning plugins exchange findings. Records live in a
// per-session table addressed by (location_a, location_b); many records may
// share one address.
//
// The locking model is two-tier. Composite check-then-act operations
// (AppendUniq, AppendUniqGroup, Setup) serialize on one mutex so their scan
// and conditional write are atomic with respect to each other. Primitive
// operations rely on per-statement database atomicity unless
// Config.StrictPrimitives opts them into the same mutex.
package kb

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/strixsec/strix/internal/database"
	"github.com/strixsec/strix/internal/logger"
	"github.com/strixsec/strix/pkg/types"
)

// Location names the first address component. Plugins implement it; plain
// strings are wrapped with Loc.
type Location interface {
	LocationName() string
}

// Loc adapts a plain string to a Location.
type Loc string

func (l Loc) LocationName() string { return string(l) }

type Config struct {
	// TablePrefix namespaces the per-session finding table.
	TablePrefix string
	// Table pins the backing table to a fixed name instead of generating a
	// random per-session one. Reporting tools set it to attach to a session
	// another process created.
	Table string
	// StrictPrimitives serializes primitive operations on the composite
	// lock instead of relying on per-statement atomicity.
	StrictPrimitives bool
}

// tableColumns lists everything but the id column, whose auto-increment
// declaration is driver-specific. The id preserves insertion order for the
// ordered read paths.
var tableColumns = []database.Column{
	{Name: "location_a", Type: "TEXT"},
	{Name: "location_b", Type: "TEXT"},
	{Name: "uniq_id", Type: "TEXT"},
	{Name: "blob", Type: "BLOB"},
}

func (k *KnowledgeBase) findingColumns() []database.Column {
	idType := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if k.db.Driver() == "postgres" {
		idType = "BIGSERIAL PRIMARY KEY"
	}
	return append([]database.Column{{Name: "id", Type: idType}}, tableColumns...)
}

// KnowledgeBase is safe for concurrent use. Constructing one allocates no
// heavy resources; the first operation triggers Setup.
type KnowledgeBase struct {
	db  *database.DB
	log *logger.Logger
	cfg Config

	mu          sync.Mutex
	initialized atomic.Bool
	table       string
	urls        *database.DiskSet
	requests    *database.DiskSet

	observers observerRegistry
}

func New(db *database.DB, log *logger.Logger, cfg Config) *KnowledgeBase {
	if cfg.TablePrefix == "" {
		cfg.TablePrefix = "kb"
	}
	return &KnowledgeBase{
		db:  db,
		log: log.WithComponent("kb"),
		cfg: cfg,
	}
}

// Setup allocates the backing table and coverage sets. It is idempotent and
// every public operation calls it transparently, so explicit calls are only
// useful to front-load the cost.
func (k *KnowledgeBase) Setup(ctx context.Context) error {
	if k.initialized.Load() {
		return nil
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.setupLocked(ctx)
}

func (k *KnowledgeBase) setupLocked(ctx context.Context) error {
	if k.initialized.Load() {
		return nil
	}

	start := time.Now()
	table := k.cfg.Table
	if table == "" {
		table = database.RandomTableName(k.cfg.TablePrefix)
	}

	if err := k.db.CreateTable(ctx, table, k.findingColumns()); err != nil {
		return fmt.Errorf("kb setup: %w", err)
	}
	if err := k.db.CreateIndex(ctx, table, []string{"location_a", "location_b"}); err != nil {
		return fmt.Errorf("kb setup: %w", err)
	}
	if err := k.db.CreateIndex(ctx, table, []string{"uniq_id"}); err != nil {
		return fmt.Errorf("kb setup: %w", err)
	}

	urls, err := database.NewDiskSet(ctx, k.db, k.cfg.TablePrefix+"_urls")
	if err != nil {
		return fmt.Errorf("kb setup: %w", err)
	}
	requests, err := database.NewDiskSet(ctx, k.db, k.cfg.TablePrefix+"_requests")
	if err != nil {
		return fmt.Errorf("kb setup: %w", err)
	}

	k.table = table
	k.urls = urls
	k.requests = requests
	k.initialized.Store(true)

	k.log.LogDuration(ctx, "kb.Setup", start, "table", table)
	return nil
}

// Table reports the backing table name. Empty until Setup has run.
func (k *KnowledgeBase) Table() string {
	if !k.initialized.Load() {
		return ""
	}
	return k.table
}

// lockPrimitives takes the composite lock when strict mode is on and
// returns the matching unlock.
func (k *KnowledgeBase) lockPrimitives() func() {
	if !k.cfg.StrictPrimitives {
		return func() {}
	}
	k.mu.Lock()
	return k.mu.Unlock
}

// Append stores a finding at the address, accumulating with any records
// already there.
func (k *KnowledgeBase) Append(ctx context.Context, locA Location, locB string, f types.Finding) error {
	if err := k.Setup(ctx); err != nil {
		return err
	}
	defer k.lockPrimitives()()
	return k.appendFinding(ctx, locA.LocationName(), locB, f)
}

func isNilFinding(f types.Finding) bool {
	if f == nil {
		return true
	}
	rv := reflect.ValueOf(f)
	return rv.Kind() == reflect.Ptr && rv.IsNil()
}

func (k *KnowledgeBase) appendFinding(ctx context.Context, locA, locB string, f types.Finding) error {
	if isNilFinding(f) {
		return ErrNotAFinding
	}
	blob, err := types.Encode(f)
	if err != nil {
		return err
	}
	return k.insert(ctx, locA, locB, f.UniqID(), blob, f)
}

// AppendRaw stores a non-finding value at the address, accumulating with
// any records already there. Findings are rejected; RawWrite is the
// replacing variant.
func (k *KnowledgeBase) AppendRaw(ctx context.Context, locA Location, locB string, value interface{}) error {
	if _, ok := value.(types.Finding); ok {
		return ErrRawFinding
	}
	if err := k.Setup(ctx); err != nil {
		return err
	}
	defer k.lockPrimitives()()
	return k.appendRaw(ctx, locA.LocationName(), locB, value)
}

func (k *KnowledgeBase) appendRaw(ctx context.Context, locA, locB string, value interface{}) error {
	blob, err := types.EncodeRaw(value)
	if err != nil {
		return err
	}
	return k.insert(ctx, locA, locB, rawUniqID(value), blob, value)
}

func (k *KnowledgeBase) insert(ctx context.Context, locA, locB, uniqID string, blob []byte, value interface{}) error {
	start := time.Now()
	query := fmt.Sprintf(
		"INSERT INTO %s (location_a, location_b, uniq_id, blob) VALUES (?, ?, ?, ?)", k.table)

	result, err := k.db.Exec(ctx, query, locA, locB, uniqID, blob)
	if err != nil {
		k.log.LogError(ctx, err, "kb.insert",
			"location_a", locA, "location_b", locB, "uniq_id", uniqID)
		return fmt.Errorf("failed to store at (%s, %s): %w", locA, locB, err)
	}

	rows, _ := result.RowsAffected()
	k.log.LogDatabaseOperation(ctx, "INSERT", k.table, rows, time.Since(start),
		"location_a", locA, "location_b", locB)

	k.notifyAppend(locA, locB, value)
	return nil
}

// rawUniqID derives a content identity for a non-finding value: slices and
// arrays hash the concatenation of their elements' string forms, anything
// else hashes its own string form.
func rawUniqID(value interface{}) string {
	rv := reflect.ValueOf(value)
	if rv.IsValid() && (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) {
		parts := make([]string, rv.Len())
		for n := 0; n < rv.Len(); n++ {
			parts[n] = fmt.Sprint(rv.Index(n).Interface())
		}
		return types.HashParts(parts...)
	}
	return types.HashParts(fmt.Sprint(value))
}

// Get returns all findings stored at (locA, locB), or at every locB under
// locA when locB is empty. Raw records at the address make it fail; those
// addresses belong to RawRead.
func (k *KnowledgeBase) Get(ctx context.Context, locA Location, locB string) ([]types.Finding, error) {
	if err := k.Setup(ctx); err != nil {
		return nil, err
	}
	defer k.lockPrimitives()()
	values, err := k.getValues(ctx, locA.LocationName(), locB, true)
	if err != nil {
		return nil, err
	}
	findings := make([]types.Finding, len(values))
	for n, v := range values {
		findings[n] = v.(types.Finding)
	}
	return findings, nil
}

func (k *KnowledgeBase) getValues(ctx context.Context, locA, locB string, checkTypes bool) ([]interface{}, error) {
	var (
		query string
		args  []interface{}
	)
	if locB == "" {
		query = fmt.Sprintf(
			"SELECT blob FROM %s WHERE location_a = ? ORDER BY id", k.table)
		args = []interface{}{locA}
	} else {
		query = fmt.Sprintf(
			"SELECT blob FROM %s WHERE location_a = ? AND location_b = ? ORDER BY id", k.table)
		args = []interface{}{locA, locB}
	}

	rows, err := k.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read (%s, %s): %w", locA, locB, err)
	}
	defer rows.Close()

	var values []interface{}
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		v, err := types.DecodeAny(blob)
		if err != nil {
			return nil, err
		}
		if _, ok := v.(types.Finding); checkTypes && !ok {
			return nil, fmt.Errorf("raw value at (%s, %s): %w", locA, locB, ErrNotAFinding)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// GetOne returns the single finding at the address, nil if there is none,
// or ErrAmbiguousResult when several are stored.
func (k *KnowledgeBase) GetOne(ctx context.Context, locA Location, locB string) (types.Finding, error) {
	if err := k.Setup(ctx); err != nil {
		return nil, err
	}
	defer k.lockPrimitives()()
	values, err := k.getValues(ctx, locA.LocationName(), locB, true)
	if err != nil {
		return nil, err
	}
	switch len(values) {
	case 0:
		return nil, nil
	case 1:
		return values[0].(types.Finding), nil
	default:
		return nil, fmt.Errorf("get_one found %d results: %w", len(values), ErrAmbiguousResult)
	}
}

// Update replaces the record whose identity matches old with new. It fails
// with ErrStaleUpdate, and writes nothing, when old is no longer stored.
func (k *KnowledgeBase) Update(ctx context.Context, old, new types.Finding) error {
	if err := k.Setup(ctx); err != nil {
		return err
	}
	defer k.lockPrimitives()()
	return k.updateFinding(ctx, old, new)
}

func (k *KnowledgeBase) updateFinding(ctx context.Context, old, new types.Finding) error {
	if isNilFinding(old) || isNilFinding(new) {
		return ErrNotAFinding
	}

	oldID := old.UniqID()
	newID := new.UniqID()

	blob, err := types.Encode(new)
	if err != nil {
		return err
	}

	start := time.Now()
	query := fmt.Sprintf("UPDATE %s SET blob = ?, uniq_id = ? WHERE uniq_id = ?", k.table)
	result, err := k.db.Exec(ctx, query, blob, newID, oldID)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", oldID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("failed to update %s (old uniq_id %s, new uniq_id %s): %w",
			old.Kind(), oldID, newID, ErrStaleUpdate)
	}

	k.log.LogDatabaseOperation(ctx, "UPDATE", k.table, rows, time.Since(start),
		"old_uniq_id", oldID, "new_uniq_id", newID)

	k.notifyUpdate(old, new)
	return nil
}

// RawWrite stores value as the sole record at the address, replacing
// whatever was there. Findings are rejected; they accumulate via Append.
func (k *KnowledgeBase) RawWrite(ctx context.Context, locA Location, locB string, value interface{}) error {
	if _, ok := value.(types.Finding); ok {
		return ErrRawFinding
	}
	if err := k.Setup(ctx); err != nil {
		return err
	}
	defer k.lockPrimitives()()

	name := locA.LocationName()
	if err := k.clearValues(ctx, name, locB); err != nil {
		return err
	}
	return k.appendRaw(ctx, name, locB, value)
}

// RawRead returns the single raw value at the address, nil if there is
// none, or ErrAmbiguousResult when several records exist.
func (k *KnowledgeBase) RawRead(ctx context.Context, locA Location, locB string) (interface{}, error) {
	if err := k.Setup(ctx); err != nil {
		return nil, err
	}
	defer k.lockPrimitives()()
	values, err := k.getValues(ctx, locA.LocationName(), locB, false)
	if err != nil {
		return nil, err
	}
	switch len(values) {
	case 0:
		return nil, nil
	case 1:
		return values[0], nil
	default:
		return nil, fmt.Errorf("raw_read found %d results: %w", len(values), ErrAmbiguousResult)
	}
}

// Clear deletes every record at the exact address.
func (k *KnowledgeBase) Clear(ctx context.Context, locA Location, locB string) error {
	if err := k.Setup(ctx); err != nil {
		return err
	}
	defer k.lockPrimitives()()
	return k.clearValues(ctx, locA.LocationName(), locB)
}

func (k *KnowledgeBase) clearValues(ctx context.Context, locA, locB string) error {
	query := fmt.Sprintf(
		"DELETE FROM %s WHERE location_a = ? AND location_b = ?", k.table)
	if _, err := k.db.Exec(ctx, query, locA, locB); err != nil {
		return fmt.Errorf("failed to clear (%s, %s): %w", locA, locB, err)
	}
	return nil
}

// GetByUniqID returns the stored value with the given content identity, or
// nil when none exists.
func (k *KnowledgeBase) GetByUniqID(ctx context.Context, uniqID string) (interface{}, error) {
	if err := k.Setup(ctx); err != nil {
		return nil, err
	}
	defer k.lockPrimitives()()

	var blob []byte
	query := fmt.Sprintf("SELECT blob FROM %s WHERE uniq_id = ?", k.table)
	found, err := k.db.SelectOne(ctx, query, []interface{}{uniqID}, &blob)
	if err != nil {
		return nil, fmt.Errorf("failed to look up uniq_id %s: %w", uniqID, err)
	}
	if !found {
		return nil, nil
	}
	return types.DecodeAny(blob)
}

func (k *KnowledgeBase) scanAll(ctx context.Context, visit func(v interface{})) error {
	query := fmt.Sprintf("SELECT blob FROM %s ORDER BY id", k.table)
	rows, err := k.db.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to scan table: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return err
		}
		v, err := types.DecodeAny(blob)
		if err != nil {
			return err
		}
		visit(v)
	}
	return rows.Err()
}

// GetAllByKind returns every stored finding whose variant tag is one of the
// given kinds.
func (k *KnowledgeBase) GetAllByKind(ctx context.Context, kinds ...types.Kind) ([]types.Finding, error) {
	if err := k.Setup(ctx); err != nil {
		return nil, err
	}
	defer k.lockPrimitives()()

	want := make(map[types.Kind]bool, len(kinds))
	for _, kind := range kinds {
		want[kind] = true
	}

	var findings []types.Finding
	err := k.scanAll(ctx, func(v interface{}) {
		if f, ok := v.(types.Finding); ok && want[f.Kind()] {
			findings = append(findings, f)
		}
	})
	return findings, err
}

// GetAllFindings returns every Info, Vuln and InfoSet record regardless of
// severity. Shells and raw values are excluded.
func (k *KnowledgeBase) GetAllFindings(ctx context.Context) ([]types.Finding, error) {
	return k.GetAllByKind(ctx, types.KindInfo, types.KindVuln, types.KindInfoSet)
}

// GetAllVulns returns every record whose severity is low, medium or high.
// Records without a severity are excluded.
func (k *KnowledgeBase) GetAllVulns(ctx context.Context) ([]types.Finding, error) {
	return k.getAllBySeverity(ctx, func(s types.Severity) bool { return s.IsVulnerable() })
}

// GetAllInfos returns every record whose severity is information.
func (k *KnowledgeBase) GetAllInfos(ctx context.Context) ([]types.Finding, error) {
	return k.getAllBySeverity(ctx, func(s types.Severity) bool {
		return s == types.SeverityInformation
	})
}

func (k *KnowledgeBase) getAllBySeverity(ctx context.Context, match func(types.Severity) bool) ([]types.Finding, error) {
	if err := k.Setup(ctx); err != nil {
		return nil, err
	}
	defer k.lockPrimitives()()

	var findings []types.Finding
	err := k.scanAll(ctx, func(v interface{}) {
		sev, ok := v.(types.Severitied)
		if !ok {
			return
		}
		if match(sev.Severity()) {
			findings = append(findings, v.(types.Finding))
		}
	})
	return findings, err
}

// GetAllShells returns every stored shell, rehydrated with the given live
// resources when they are non-nil.
func (k *KnowledgeBase) GetAllShells(ctx context.Context, opener types.Opener, runner types.Runner) ([]*types.Shell, error) {
	findings, err := k.GetAllByKind(ctx, types.KindShell)
	if err != nil {
		return nil, err
	}
	shells := make([]*types.Shell, len(findings))
	for n, f := range findings {
		shell := f.(*types.Shell)
		if opener != nil && runner != nil {
			shell.Rehydrate(opener, runner)
		}
		shells[n] = shell
	}
	return shells, nil
}

// Dump returns a snapshot of the whole store as location_a -> location_b ->
// values, preserving insertion order within each address.
func (k *KnowledgeBase) Dump(ctx context.Context) (map[string]map[string][]interface{}, error) {
	if err := k.Setup(ctx); err != nil {
		return nil, err
	}
	defer k.lockPrimitives()()

	query := fmt.Sprintf("SELECT location_a, location_b, blob FROM %s ORDER BY id", k.table)
	rows, err := k.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to dump table: %w", err)
	}
	defer rows.Close()

	result := make(map[string]map[string][]interface{})
	for rows.Next() {
		var locA, locB string
		var blob []byte
		if err := rows.Scan(&locA, &locB, &blob); err != nil {
			return nil, err
		}
		v, err := types.DecodeAny(blob)
		if err != nil {
			return nil, err
		}
		if result[locA] == nil {
			result[locA] = make(map[string][]interface{})
		}
		result[locA][locB] = append(result[locA][locB], v)
	}
	return result, rows.Err()
}

// Cleanup purges every record and rebuilds both coverage sets empty, then
// drops all observers. The store stays usable for a new session.
func (k *KnowledgeBase) Cleanup(ctx context.Context) error {
	if err := k.Setup(ctx); err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, err := k.db.Exec(ctx, fmt.Sprintf("DELETE FROM %s", k.table)); err != nil {
		return fmt.Errorf("failed to clean table: %w", err)
	}

	if err := k.urls.Drop(ctx); err != nil {
		return err
	}
	urls, err := database.NewDiskSet(ctx, k.db, k.cfg.TablePrefix+"_urls")
	if err != nil {
		return err
	}
	k.urls = urls

	if err := k.requests.Drop(ctx); err != nil {
		return err
	}
	requests, err := database.NewDiskSet(ctx, k.db, k.cfg.TablePrefix+"_requests")
	if err != nil {
		return err
	}
	k.requests = requests

	k.observers.clear()
	return nil
}

// Remove tears down the backing table and coverage sets entirely. The store
// cannot be used afterwards.
func (k *KnowledgeBase) Remove(ctx context.Context) error {
	if err := k.Setup(ctx); err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.db.DropTable(ctx, k.table); err != nil {
		return err
	}
	if err := k.urls.Drop(ctx); err != nil {
		return err
	}
	if err := k.requests.Drop(ctx); err != nil {
		return err
	}
	k.observers.clear()
	return nil
}
