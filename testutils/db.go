package testutils

import (
	"fmt"
	"os"
	"os/exec"
	"os/user"
)

func createLocalDB(dbName string) bool {
	if _, err := exec.LookPath("createdb"); err != nil {
		return false
	}
	dropDB := exec.Command("dropdb", "--if-exists", dbName)
	dropDB.Stderr = os.Stderr
	dropDB.Run()
	createDB := exec.Command("createdb", dbName)
	createDB.Stderr = os.Stderr
	if err := createDB.Run(); err != nil {
		fmt.Println("createdb failed, skipping postgres tests: ", err)
		return false
	}
	return true
}

func currentUser() string {
	u, err := user.Current()
	if err != nil {
		return "postgres"
	}
	return u.Username
}

// PrepareDBConnectionString builds a lib/pq connection string from POSTGRES_* env vars. Without
// POSTGRES_DB it tries to create wantDBName on a local install. It returns "" when no database is
// available, in which case postgres tests should skip.
func PrepareDBConnectionString(wantDBName string) (connStr string) {
	user := os.Getenv("POSTGRES_USER")
	if user == "" {
		user = currentUser()
	}
	dbName := os.Getenv("POSTGRES_DB")
	if dbName == "" {
		if !createLocalDB(wantDBName) {
			return ""
		}
		dbName = wantDBName
	}
	connStr = fmt.Sprintf(
		"user=%s dbname=%s sslmode=disable",
		user, dbName,
	)
	// optional vars, used in CI
	password := os.Getenv("POSTGRES_PASSWORD")
	if password != "" {
		connStr += fmt.Sprintf(" password=%s", password)
	}
	host := os.Getenv("POSTGRES_HOST")
	if host != "" {
		connStr += fmt.Sprintf(" host=%s", host)
	}
	return
}
