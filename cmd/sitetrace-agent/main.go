package main

import (
	_ "time/tzdata" // REPORT_TIMEZONE must resolve on hosts without zoneinfo

	"github.com/vincentbai/sitetrace-agent/internal/cli"
)

func main() {
	cli.Execute()
}
