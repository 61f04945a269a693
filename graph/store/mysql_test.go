package store_test

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/go-sql-driver/mysql"

	"github.com/dshills/convograph/graph/store"
)

// getTestDSN returns the MySQL DSN from the environment. Tests skip when it
// is not set.
func getTestDSN(t *testing.T) string {
	t.Helper()
	return os.Getenv("TEST_MYSQL_DSN")
}

func TestMySQLStore_Contract(t *testing.T) {
	dsn := getTestDSN(t)
	if dsn == "" {
		t.Skip("Skipping MySQL tests: TEST_MYSQL_DSN not set")
	}

	runStoreContract(t, func(t *testing.T) store.Store[TestState] {
		cleanMySQL(t, dsn)
		st, err := store.NewMySQLStore[TestState](dsn)
		if err != nil {
			t.Fatalf("Failed to create MySQL store: %v", err)
		}
		t.Cleanup(func() { _ = st.Close() })
		return st
	})
}

func TestMySQLStore_InvalidDSN(t *testing.T) {
	if getTestDSN(t) == "" {
		t.Skip("Skipping MySQL tests: TEST_MYSQL_DSN not set")
	}

	_, err := store.NewMySQLStore[TestState]("invalid:dsn@tcp(127.0.0.1:1)/nothing")
	if err == nil {
		t.Fatal("expected error for unreachable server")
	}
}

// cleanMySQL drops the tables so each contract subtest starts empty.
func cleanMySQL(t *testing.T, dsn string) {
	t.Helper()
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	for _, table := range []string{"thread_checkpoints", "thread_steps"} {
		if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			t.Fatalf("drop %s: %v", table, err)
		}
	}
}
