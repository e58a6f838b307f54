package main

import (
	"fmt"

	echoapi "github.com/trezcool/masomo-focus/apps/api/echo"
	"github.com/trezcool/masomo-focus/core"
)

// token prints a signed API token for the learner, e.g. to drive a local session from curl.
func (cli *commandLine) token(person core.Person, isAdmin bool) error {
	claims := echoapi.NewClaims(cli.conf, person, isAdmin)
	token, err := echoapi.GenerateToken(claims, cli.conf.SecretKey)
	if err != nil {
		return err
	}
	fmt.Fprintln(cli.out, token)
	return nil
}
