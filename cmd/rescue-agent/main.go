package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/otarescue-io/otarescue/cmd/rescue-agent/app"
)

func main() {
	app.NewApp().Run()
}
