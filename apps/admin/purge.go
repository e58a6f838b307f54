package main

import (
	"context"
	"fmt"
	"time"

	"github.com/trezcool/masomo-focus/core/monitor"
)

// purge deletes the session records started before `before`.
func (cli *commandLine) purge(before time.Time) error {
	svc := monitor.NewService(cli.conf, cli.repo, nil /* no alerts */, cli.logger, cli.validate, cli.translator)
	n, err := svc.Purge(context.Background(), before)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%d session record(s) deleted\n", n)
	return nil
}
