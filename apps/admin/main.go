package main

import (
	"context"
	"log"
	"os"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/masomo-focus/core"
	logsvc "github.com/trezcool/masomo-focus/services/logger"
	"github.com/trezcool/masomo-focus/storage/database"
	sqlxrepos "github.com/trezcool/masomo-focus/storage/database/sqlx"
)

var logger *log.Logger

func main() {
	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	conf := core.NewConfig()

	cli := newCommandLine(conf, logsvc.NewRollbarLogger(logger, conf), os.Stdin, os.Stdout)

	// set up DB
	if needsDB(os.Args) {
		db, err := database.Open(context.Background(), conf)
		errAndDie(err)
		defer closeDB(db)
		cli.db = db
		cli.repo = sqlxrepos.NewSessionRepository(db)
	}

	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		closeDB(cli.db)
		os.Exit(1)
	}
}

func closeDB(db *sqlx.DB) {
	if db != nil {
		_ = db.Close()
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}
