package database

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lib/pq"
	"github.com/yeremiapane/inventory-sync/models"
	"github.com/yeremiapane/inventory-sync/utils"
	"gorm.io/gorm"
)

// Dialect is the SQL flavour trigger DDL is generated for.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
)

// DialectOf maps the gorm dialector to a trigger dialect.
func DialectOf(db *gorm.DB) (Dialect, error) {
	switch name := db.Dialector.Name(); name {
	case "sqlite":
		return DialectSQLite, nil
	case "mysql":
		return DialectMySQL, nil
	case "postgres":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("unsupported database dialect %q", name)
	}
}

const (
	triggerPrefix       = "cdc_"
	postgresCaptureFunc = "cdc_capture_row"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func checkIdentifiers(names ...string) error {
	for _, n := range names {
		if !identifierPattern.MatchString(n) {
			return fmt.Errorf("invalid identifier %q", n)
		}
	}
	return nil
}

func triggerName(table, suffix string) string {
	return triggerPrefix + table + "_" + suffix
}

// TriggerDDL returns the statements, in execution order, that (re)create the
// capture triggers of one table. Each trigger appends a change record with a
// JSON snapshot of the row (NEW for insert/update, OLD for delete).
func TriggerDDL(dialect Dialect, table, keyColumn string, columns []string) ([]string, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("no columns for table %s", table)
	}
	if err := checkIdentifiers(append([]string{table, keyColumn}, columns...)...); err != nil {
		return nil, err
	}

	switch dialect {
	case DialectSQLite:
		return sqliteTriggers(table, keyColumn, columns), nil
	case DialectMySQL:
		return mysqlTriggers(table, keyColumn, columns), nil
	case DialectPostgres:
		return postgresTriggers(table, keyColumn), nil
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
}

func jsonPairs(alias string, columns []string, quote func(string) string) string {
	pairs := make([]string, 0, len(columns))
	for _, col := range columns {
		pairs = append(pairs, fmt.Sprintf("'%s', %s.%s", col, alias, quote(col)))
	}
	return strings.Join(pairs, ", ")
}

func sqliteQuote(name string) string { return `"` + name + `"` }
func mysqlQuote(name string) string  { return "`" + name + "`" }

func sqliteTriggers(table, keyColumn string, columns []string) []string {
	stmt := func(suffix, event, alias string, op models.Operation) string {
		return fmt.Sprintf(`CREATE TRIGGER %s AFTER %s ON %s
BEGIN
    INSERT INTO %s(table_name, record_key, operation, payload, created_at, processed)
    VALUES (
        '%s',
        %s.%s,
        '%s',
        json_object(%s),
        strftime('%%Y-%%m-%%d %%H:%%M:%%f', 'now'),
        0
    );
END;`, triggerName(table, suffix), event, sqliteQuote(table),
			models.ChangeLogTable, table, alias, sqliteQuote(keyColumn), op,
			jsonPairs(alias, columns, sqliteQuote))
	}

	return []string{
		fmt.Sprintf("DROP TRIGGER IF EXISTS %s", triggerName(table, "ai")),
		fmt.Sprintf("DROP TRIGGER IF EXISTS %s", triggerName(table, "au")),
		fmt.Sprintf("DROP TRIGGER IF EXISTS %s", triggerName(table, "ad")),
		stmt("ai", "INSERT", "NEW", models.OperationInsert),
		stmt("au", "UPDATE", "NEW", models.OperationUpdate),
		stmt("ad", "DELETE", "OLD", models.OperationDelete),
	}
}

// mysqlTriggers uses single-statement bodies so no DELIMITER juggling is needed.
func mysqlTriggers(table, keyColumn string, columns []string) []string {
	stmt := func(suffix, event, alias string, op models.Operation) string {
		return fmt.Sprintf(`CREATE TRIGGER %s AFTER %s ON %s
FOR EACH ROW
INSERT INTO %s(table_name, record_key, operation, payload, created_at, processed)
VALUES ('%s', %s.%s, '%s', JSON_OBJECT(%s), NOW(6), 0)`,
			triggerName(table, suffix), event, mysqlQuote(table),
			mysqlQuote(models.ChangeLogTable), table, alias, mysqlQuote(keyColumn), op,
			jsonPairs(alias, columns, mysqlQuote))
	}

	return []string{
		fmt.Sprintf("DROP TRIGGER IF EXISTS %s", triggerName(table, "ai")),
		fmt.Sprintf("DROP TRIGGER IF EXISTS %s", triggerName(table, "au")),
		fmt.Sprintf("DROP TRIGGER IF EXISTS %s", triggerName(table, "ad")),
		stmt("ai", "INSERT", "NEW", models.OperationInsert),
		stmt("au", "UPDATE", "NEW", models.OperationUpdate),
		stmt("ad", "DELETE", "OLD", models.OperationDelete),
	}
}

// postgresTriggers shares one plpgsql function across tables; the key column
// is passed as the trigger argument.
func postgresTriggers(table, keyColumn string) []string {
	fn := fmt.Sprintf(`CREATE OR REPLACE FUNCTION %[1]s() RETURNS trigger AS $cdc$
BEGIN
    IF TG_OP = 'DELETE' THEN
        INSERT INTO %[2]s(table_name, record_key, operation, payload, created_at, processed)
        VALUES (TG_TABLE_NAME, to_jsonb(OLD) ->> TG_ARGV[0], 'DELETE', to_jsonb(OLD)::text, now(), false);
        RETURN OLD;
    END IF;
    INSERT INTO %[2]s(table_name, record_key, operation, payload, created_at, processed)
    VALUES (TG_TABLE_NAME, to_jsonb(NEW) ->> TG_ARGV[0], TG_OP, to_jsonb(NEW)::text, now(), false);
    RETURN NEW;
END;
$cdc$ LANGUAGE plpgsql`, postgresCaptureFunc, pq.QuoteIdentifier(models.ChangeLogTable))

	name := triggerName(table, "capture")
	return []string{
		fn,
		fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", name, pq.QuoteIdentifier(table)),
		fmt.Sprintf(`CREATE TRIGGER %s AFTER INSERT OR UPDATE OR DELETE ON %s
FOR EACH ROW EXECUTE FUNCTION %s(%s)`, name, pq.QuoteIdentifier(table), postgresCaptureFunc, pq.QuoteLiteral(keyColumn)),
	}
}

// DropTriggerDDL returns the statements removing a table's capture triggers.
func DropTriggerDDL(dialect Dialect, table string) ([]string, error) {
	if err := checkIdentifiers(table); err != nil {
		return nil, err
	}
	switch dialect {
	case DialectSQLite, DialectMySQL:
		return []string{
			fmt.Sprintf("DROP TRIGGER IF EXISTS %s", triggerName(table, "ai")),
			fmt.Sprintf("DROP TRIGGER IF EXISTS %s", triggerName(table, "au")),
			fmt.Sprintf("DROP TRIGGER IF EXISTS %s", triggerName(table, "ad")),
		}, nil
	case DialectPostgres:
		return []string{
			fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", triggerName(table, "capture"), pq.QuoteIdentifier(table)),
		}, nil
	}
	return nil, fmt.Errorf("unsupported dialect %q", dialect)
}

// TriggerInfo is one installed capture trigger as reported by the database.
type TriggerInfo struct {
	Name  string
	Table string
}

// ListCaptureTriggers reads the installed capture triggers back from the
// database catalog.
func ListCaptureTriggers(db *gorm.DB, dialect Dialect) ([]TriggerInfo, error) {
	var query string
	switch dialect {
	case DialectSQLite:
		query = `SELECT name AS name, tbl_name AS "table" FROM sqlite_master WHERE type = 'trigger' AND name LIKE 'cdc\_%' ESCAPE '\'`
	case DialectMySQL:
		query = "SELECT DISTINCT TRIGGER_NAME AS name, EVENT_OBJECT_TABLE AS `table` FROM information_schema.triggers WHERE TRIGGER_SCHEMA = DATABASE() AND TRIGGER_NAME LIKE 'cdc\\_%'"
	case DialectPostgres:
		query = `SELECT DISTINCT trigger_name AS name, event_object_table AS "table" FROM information_schema.triggers WHERE trigger_name LIKE 'cdc\_%'`
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}

	var triggers []TriggerInfo
	if err := db.Raw(query).Scan(&triggers).Error; err != nil {
		return nil, err
	}
	return triggers, nil
}

// InstallCaptureTriggers (re)creates the capture triggers for every table in
// the catalog and verifies they exist afterwards. Any failure is a
// CaptureFailure: running without capture would silently lose changes.
func InstallCaptureTriggers(db *gorm.DB, dialect Dialect, catalog *Catalog) error {
	for _, table := range catalog.Tables() {
		cols, _ := catalog.Columns(table)
		stmts, err := TriggerDDL(dialect, table, KeyColumn, cols)
		if err != nil {
			return &CaptureFailure{Table: table, Err: err}
		}
		for _, stmt := range stmts {
			if err := db.Exec(stmt).Error; err != nil {
				utils.ErrorLogger.Printf("Error executing trigger statement on %s: %v", table, err)
				return &CaptureFailure{Table: table, Err: fmt.Errorf("install trigger: %w", err)}
			}
		}
	}

	installed, err := ListCaptureTriggers(db, dialect)
	if err != nil {
		return &CaptureFailure{Err: fmt.Errorf("verify triggers: %w", err)}
	}
	covered := make(map[string]int, len(installed))
	for _, t := range installed {
		covered[t.Table]++
		utils.InfoLogger.Printf("Trigger verified: %s on %s", t.Name, t.Table)
	}
	for _, table := range catalog.Tables() {
		if covered[table] == 0 {
			return &CaptureFailure{Table: table, Err: fmt.Errorf("capture trigger missing after install")}
		}
	}
	return nil
}

// DropCaptureTriggers removes the capture triggers, used when switching to
// callback capture so rows are not logged twice.
func DropCaptureTriggers(db *gorm.DB, dialect Dialect, catalog *Catalog) error {
	for _, table := range catalog.Tables() {
		stmts, err := DropTriggerDDL(dialect, table)
		if err != nil {
			return err
		}
		for _, stmt := range stmts {
			if err := db.Exec(stmt).Error; err != nil {
				return fmt.Errorf("drop trigger on %s: %w", table, err)
			}
		}
	}
	return nil
}
