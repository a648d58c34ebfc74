package main

import (
	"log"

	"github.com/koutyuke/mona-ca-sub001/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
