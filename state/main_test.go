package state

import (
	"os"
	"testing"

	"github.com/discord-net/dgate/testutils"
	"github.com/jmoiron/sqlx"
)

var postgresConnectionString = ""

func TestMain(m *testing.M) {
	postgresConnectionString = testutils.PrepareDBConnectionString("dgate_state_test")
	exitCode := m.Run()
	os.Exit(exitCode)
}

func connectToDB(t *testing.T) (*sqlx.DB, func()) {
	if postgresConnectionString == "" {
		t.Skip("no postgres available")
	}
	db, err := sqlx.Open("postgres", postgresConnectionString)
	if err != nil {
		t.Fatalf("failed to open SQL db: %s", err)
	}
	return db, func() {
		db.Close()
	}
}
