package backup

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"custodia/internal/logging"

	"github.com/google/uuid"
)

// changeLogTable records every mutation applied to the regulated database.
// Incremental and differential dumps replay statement ranges out of it.
const changeLogTable = "change_log"

// DatabaseBackupService produces SQL dump artifacts for the regulated
// database. Full dumps capture schema and rows for every table; incremental
// and differential dumps capture a change-sequence range from the change log.
type DatabaseBackupService struct {
	db         *sql.DB
	config     *DatabaseConfig
	storage    StorageBackend
	manifests  *ManifestStore
	pipeline   *ArtifactPipeline
	scratchDir string
	logger     *logging.Logger
}

// NewDatabaseBackupService creates a database backup service over an open
// connection pool. The caller owns the pool lifecycle.
func NewDatabaseBackupService(db *sql.DB, config *DatabaseConfig, storage StorageBackend, manifests *ManifestStore, pipeline *ArtifactPipeline, scratchDir string, logger *logging.Logger) *DatabaseBackupService {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &DatabaseBackupService{
		db:         db,
		config:     config,
		storage:    storage,
		manifests:  manifests,
		pipeline:   pipeline,
		scratchDir: scratchDir,
		logger:     logger,
	}
}

// Component identifies this service as the database component
func (ds *DatabaseBackupService) Component() ComponentType {
	return ComponentDatabase
}

// CreateBackup produces one SQL dump artifact of the requested kind. When an
// incremental or differential dump has no usable baseline, the service falls
// back to a full dump and reports the substitution as a warning.
func (ds *DatabaseBackupService) CreateBackup(ctx context.Context, opts BackupOptions) (*ComponentBackup, error) {
	start := time.Now()

	kind := opts.Kind
	if kind == "" {
		kind = BackupKindFull
	}

	result := &ComponentBackup{
		Component: ComponentDatabase,
	}

	currentSeq, err := ds.currentChangeSeq(ctx)
	if err != nil {
		return nil, err
	}

	var dump []byte
	var seqFrom uint64

	switch kind {
	case BackupKindFull:
		dump, err = ds.dumpFull(ctx)

	case BackupKindIncremental, BackupKindDifferential:
		baseline, baseErr := ds.baselineSeq(ctx, kind)
		if baseErr != nil {
			ds.logger.Warnf("No baseline for %s database backup, falling back to full dump", strings.ToLower(string(kind)))
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("no baseline found for %s backup, performed full dump instead", strings.ToLower(string(kind))))
			kind = BackupKindFull
			dump, err = ds.dumpFull(ctx)
		} else {
			seqFrom = baseline
			dump, err = ds.dumpChangeRange(ctx, baseline, currentSeq)
		}

	default:
		return nil, NewValidationError(fmt.Sprintf("unknown backup kind: %s", opts.Kind), nil)
	}
	if err != nil {
		return nil, err
	}

	template := Manifest{
		ArtifactID:     uuid.New().String(),
		Component:      ComponentDatabase,
		Kind:           kind,
		Sensitivity:    SensitivityConfidential,
		DatabaseName:   ds.config.Database,
		ChangeSeqFrom:  seqFrom,
		ChangeSeqTo:    currentSeq,
		ProcessedCount: 1,
	}

	baseName := fmt.Sprintf("db-%s-%s.sql", strings.ToLower(string(kind)), time.Now().UTC().Format("20060102-150405"))
	manifest, err := PushArtifact(ctx, ds.storage, ds.pipeline, ds.manifests, ds.scratchDir, dump, template, opts, baseName)
	if err != nil {
		ds.logger.LogComponentBackup(opts.ExecutionID, string(ComponentDatabase), 0, time.Since(start), false, err)
		return nil, err
	}

	result.ArtifactPaths = []string{manifest.ArtifactPath}
	result.TotalSize = manifest.Size
	result.Manifests = []*Manifest{manifest}
	result.Success = true

	ds.logger.LogComponentBackup(opts.ExecutionID, string(ComponentDatabase), manifest.Size, time.Since(start), true, nil)
	return result, nil
}

// Restore applies a database dump artifact. Full dumps rebuild the schema and
// data; incremental and differential dumps replay their statement range.
// Dependent connections are paused for the duration unless configured
// otherwise, and all statements apply inside one transaction so a failed
// restore leaves the database untouched.
func (ds *DatabaseBackupService) Restore(ctx context.Context, manifest *Manifest, dryRun bool) ([]RestoredItem, error) {
	dump, err := FetchArtifact(ctx, ds.storage, ds.pipeline, manifest, ds.scratchDir)
	if err != nil {
		return nil, err
	}

	statements := splitStatements(string(dump))
	if dryRun {
		return []RestoredItem{{
			Path:   manifest.DatabaseName,
			Size:   int64(len(dump)),
			DryRun: true,
		}}, nil
	}

	if !ds.config.SkipConnectionPause {
		if err := ds.pauseConnections(ctx); err != nil {
			return nil, err
		}
		// Writes must come back even when the restore context is cancelled.
		defer func() {
			if err := ds.resumeConnections(context.WithoutCancel(ctx)); err != nil {
				ds.logger.Errorf("Failed to resume database connections: %v", err)
			}
		}()
	}

	tx, err := ds.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, NewDependencyError("failed to begin restore transaction", err)
	}

	for _, statement := range statements {
		if _, err := tx.ExecContext(ctx, statement); err != nil {
			tx.Rollback()
			return nil, NewDependencyError("failed to apply restore statement", err).
				WithContext("artifact_id", manifest.ArtifactID)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, NewDependencyError("failed to commit restore transaction", err)
	}

	return []RestoredItem{{
		Path: manifest.DatabaseName,
		Size: int64(len(dump)),
	}}, nil
}

// ListBackups returns database manifests, newest first
func (ds *DatabaseBackupService) ListBackups(ctx context.Context, limit int) ([]*Manifest, error) {
	all, err := ds.manifests.List(ctx, "", 0)
	if err != nil {
		return nil, err
	}
	var out []*Manifest
	for _, manifest := range all {
		if manifest.Component == ComponentDatabase {
			out = append(out, manifest)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// pauseConnections blocks new writes and disconnects other active sessions so
// nothing interleaves with the restore transaction. The restoring session
// holds administrative privileges and is unaffected by read_only.
func (ds *DatabaseBackupService) pauseConnections(ctx context.Context) error {
	if _, err := ds.db.ExecContext(ctx, "SET GLOBAL read_only = ON"); err != nil {
		return NewDependencyError("failed to pause database writes", err)
	}

	rows, err := ds.db.QueryContext(ctx,
		"SELECT id FROM information_schema.processlist WHERE id <> CONNECTION_ID() AND command <> 'Sleep'")
	if err != nil {
		return NewDependencyError("failed to list active sessions", err)
	}
	defer rows.Close()

	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return NewDependencyError("failed to scan session id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return NewDependencyError("failed to iterate active sessions", err)
	}

	for _, id := range ids {
		// The session may have exited on its own between listing and kill.
		if _, err := ds.db.ExecContext(ctx, fmt.Sprintf("KILL %d", id)); err != nil {
			ds.logger.Warnf("Could not disconnect session %d: %v", id, err)
		}
	}
	return nil
}

// resumeConnections re-enables writes after a restore
func (ds *DatabaseBackupService) resumeConnections(ctx context.Context) error {
	if _, err := ds.db.ExecContext(ctx, "SET GLOBAL read_only = OFF"); err != nil {
		return NewDependencyError("failed to resume database writes", err)
	}
	return nil
}

// currentChangeSeq reads the highest applied change sequence
func (ds *DatabaseBackupService) currentChangeSeq(ctx context.Context) (uint64, error) {
	var seq uint64
	query := fmt.Sprintf("SELECT COALESCE(MAX(seq), 0) FROM %s", changeLogTable)
	if err := ds.db.QueryRowContext(ctx, query).Scan(&seq); err != nil {
		return 0, NewDependencyError("failed to read current change sequence", err)
	}
	return seq, nil
}

// baselineSeq finds the change sequence this dump kind continues from.
// Incremental dumps continue from the most recent dump of any kind;
// differential dumps always continue from the most recent full dump.
func (ds *DatabaseBackupService) baselineSeq(ctx context.Context, kind BackupKind) (uint64, error) {
	manifests, err := ds.ListBackups(ctx, 0)
	if err != nil {
		return 0, err
	}

	for _, manifest := range manifests {
		if kind == BackupKindDifferential && manifest.Kind != BackupKindFull {
			continue
		}
		return manifest.ChangeSeqTo, nil
	}

	return 0, NewDependencyError("no baseline backup found", nil)
}

// dumpFull produces a complete SQL dump of every table except the change log
func (ds *DatabaseBackupService) dumpFull(ctx context.Context) ([]byte, error) {
	tables, err := ds.listTables(ctx)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "-- Full dump of %s\n", ds.config.Database)
	fmt.Fprintf(&buf, "-- Generated at %s\n\n", time.Now().UTC().Format(time.RFC3339))
	buf.WriteString("SET FOREIGN_KEY_CHECKS=0;\n\n")

	for _, table := range tables {
		if table == changeLogTable {
			continue
		}
		if err := ds.dumpTable(ctx, &buf, table); err != nil {
			return nil, err
		}
	}

	buf.WriteString("SET FOREIGN_KEY_CHECKS=1;\n")
	return buf.Bytes(), nil
}

// dumpChangeRange produces a replay script for change sequences in (from, to]
func (ds *DatabaseBackupService) dumpChangeRange(ctx context.Context, from, to uint64) ([]byte, error) {
	query := fmt.Sprintf("SELECT seq, statement FROM %s WHERE seq > ? AND seq <= ? ORDER BY seq", changeLogTable)
	rows, err := ds.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, NewDependencyError("failed to read change log range", err)
	}
	defer rows.Close()

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "-- Change replay for %s, sequences %d through %d\n\n", ds.config.Database, from+1, to)

	for rows.Next() {
		var seq uint64
		var statement string
		if err := rows.Scan(&seq, &statement); err != nil {
			return nil, NewDependencyError("failed to scan change log row", err)
		}
		fmt.Fprintf(&buf, "-- seq %d\n%s;\n", seq, strings.TrimSuffix(statement, ";"))
	}
	if err := rows.Err(); err != nil {
		return nil, NewDependencyError("failed to iterate change log", err)
	}

	return buf.Bytes(), nil
}

// listTables returns all table names in the configured database
func (ds *DatabaseBackupService) listTables(ctx context.Context) ([]string, error) {
	rows, err := ds.db.QueryContext(ctx, "SHOW TABLES")
	if err != nil {
		return nil, NewDependencyError("failed to list tables", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var table string
		if err := rows.Scan(&table); err != nil {
			return nil, NewDependencyError("failed to scan table name", err)
		}
		tables = append(tables, table)
	}
	if err := rows.Err(); err != nil {
		return nil, NewDependencyError("failed to iterate tables", err)
	}

	return tables, nil
}

// dumpTable writes DDL and row data for one table
func (ds *DatabaseBackupService) dumpTable(ctx context.Context, buf *bytes.Buffer, table string) error {
	var name, ddl string
	query := fmt.Sprintf("SHOW CREATE TABLE `%s`", table)
	if err := ds.db.QueryRowContext(ctx, query).Scan(&name, &ddl); err != nil {
		return NewDependencyError(fmt.Sprintf("failed to read DDL for table %s", table), err)
	}

	fmt.Fprintf(buf, "DROP TABLE IF EXISTS `%s`;\n%s;\n\n", table, ddl)

	rows, err := ds.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM `%s`", table))
	if err != nil {
		return NewDependencyError(fmt.Sprintf("failed to read rows from table %s", table), err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return NewDependencyError("failed to read column names", err)
	}

	values := make([]sql.RawBytes, len(columns))
	scanArgs := make([]interface{}, len(columns))
	for i := range values {
		scanArgs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(scanArgs...); err != nil {
			return NewDependencyError("failed to scan row", err)
		}

		literals := make([]string, len(values))
		for i, value := range values {
			if value == nil {
				literals[i] = "NULL"
			} else {
				literals[i] = quoteSQLString(string(value))
			}
		}
		fmt.Fprintf(buf, "INSERT INTO `%s` VALUES (%s);\n", table, strings.Join(literals, ", "))
	}
	if err := rows.Err(); err != nil {
		return NewDependencyError("failed to iterate rows", err)
	}

	buf.WriteString("\n")
	return nil
}

// quoteSQLString quotes a value as a SQL string literal
func quoteSQLString(value string) string {
	replacer := strings.NewReplacer(
		"\\", "\\\\",
		"'", "\\'",
		"\n", "\\n",
		"\r", "\\r",
		"\x00", "\\0",
	)
	return "'" + replacer.Replace(value) + "'"
}

// splitStatements splits a dump into executable statements, dropping comments
// and blank lines.
func splitStatements(dump string) []string {
	var statements []string
	var current strings.Builder

	for _, line := range strings.Split(dump, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}

		current.WriteString(line)
		current.WriteString("\n")

		if strings.HasSuffix(trimmed, ";") {
			statement := strings.TrimSpace(current.String())
			statements = append(statements, strings.TrimSuffix(statement, ";"))
			current.Reset()
		}
	}

	if remainder := strings.TrimSpace(current.String()); remainder != "" {
		statements = append(statements, remainder)
	}

	return statements
}
