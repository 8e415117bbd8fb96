// Package glsql provides integration with SQL database. It contains a set
// of functions and structures that help to interact with SQL database and
// to write tests to check it.

// A simple unit tests do not require any additional dependencies.
// The tests tagged with "postgres" require a running Postgres database instance.
// You need to provide PGHOST, PGPORT and PGUSER environment variables to run them.
// PGHOST - is a host of the Postgres database to connect to.
// PGPORT - is a port which is used by Postgres database to listen for incoming
// connections.
// PGUSER - is a user of the Postgres database that needs to be used.
//
// To check if everything configured properly run the command:
//
// $ PGHOST=<host of db instance> \
//   PGPORT=<port of db instance> \
//   PGUSER=postgres \
//   go test -tags postgres \
//    -v \
//    -count=1 \
//    gitlab.com/gitlab-org/rename-project/internal/datastore/glsql \
//    -run=^TestOpenDB$

package glsql
