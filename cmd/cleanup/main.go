// Copyright 2026 The Holidesk Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command cleanup purges revoked and expired sessions older than the
// retention window. It is meant for cron when the server's own
// cleanup loop is not running.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/holidesk/holidesk/internal/session"
	"github.com/holidesk/holidesk/internal/store/postgres"
)

func main() {
	dsn := flag.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection URL")
	retention := flag.Duration("retention", 30*24*time.Hour, "keep ended sessions for this long")
	timeout := flag.Duration("timeout", time.Minute, "overall deadline")
	flag.Parse()

	if *dsn == "" {
		fmt.Fprintln(os.Stderr, "cleanup: -database-url or DATABASE_URL is required")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := postgres.New(ctx, postgres.Config{URL: *dsn})
	if err != nil {
		fmt.Fprintf(os.Stderr, "cleanup: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	manager := session.NewManager(postgres.NewSessionRepository(db), session.Config{})
	n, err := manager.CleanupExpired(ctx, time.Now().Add(-*retention))
	if err != nil {
		fmt.Fprintf(os.Stderr, "cleanup: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("purged %d sessions\n", n)
}
