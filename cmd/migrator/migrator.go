package main

import (
	"flag"
	"log"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	config "github.com/NordCoder/Zepatrol/internal/config/worker"
	"github.com/NordCoder/Zepatrol/migrations"
)

func main() {
	path := flag.String("config", os.Getenv("ZEPATROL_CONFIG"), "path to the yaml config")
	flag.Parse()
	command := "up"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	cfg, err := config.Load(*path)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatalf("goose dialect: %v", err)
	}

	db, err := goose.OpenDBWithDriver("pgx", cfg.DB.URL)
	if err != nil {
		log.Fatalf("goose open db: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("close db: %v", err)
		}
	}()

	if err := goose.Run(command, db, ".", flag.Args()[min(1, flag.NArg()):]...); err != nil {
		log.Fatalf("goose %s: %v", command, err)
	}
	log.Printf("goose %s ok", command)
}
