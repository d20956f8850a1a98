package main

import (
	"os"

	"commitlog/cmd/commitlog/app"
)

func main() {
	app.New(os.Args[0]).Run()
}
