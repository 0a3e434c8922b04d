// cmd/tenantctl/main.go
//
// Operator CLI for tenant databases.
//
// Commands
// --------
//
//	tenantctl provision <tenant-id>
//	tenantctl backup    <tenant-id>
//	tenantctl delete    <tenant-id> [--yes]
//	tenantctl migrate-all
//	tenantctl master-migrate
//	tenantctl ping      [tenant-id]
//	tenantctl stats
//	tenantctl token     --subject <name> [--ttl 1h]
//
// Every command exits non-zero on failure.  Writes made by a command are
// audited under the --actor name (default $USER).
package main

import (
	"os"
)

func main() {
	if err := newCLI(os.Stdin, os.Stdout, os.Stderr).root().Execute(); err != nil {
		os.Exit(1)
	}
}
