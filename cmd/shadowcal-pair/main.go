// Command shadowcal-pair creates a sync pair between two connected calendars
// and queues its first sync for the worker.
//
// Usage:
//
//	shadowcal-pair -user 1 -from 10 -to 12
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/vipul43/shadowcal-worker/internal/config"
	"github.com/vipul43/shadowcal-worker/internal/database"
	"github.com/vipul43/shadowcal-worker/internal/models"
	"github.com/vipul43/shadowcal-worker/internal/repository"
	"github.com/vipul43/shadowcal-worker/internal/service"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("shadowcal-pair", flag.ContinueOnError)
	userID := fs.Int64("user", 0, "owner user id")
	fromID := fs.Int64("from", 0, "source calendar id")
	toID := fs.Int64("to", 0, "destination calendar id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == 0 || *fromID == 0 || *toID == 0 {
		fs.Usage()
		return errors.New("-user, -from and -to are required")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	repos := service.Repositories{
		Accounts:  repository.NewAccountRepository(db.Gorm),
		Calendars: repository.NewCalendarRepository(db.Gorm),
		Events:    repository.NewEventRepository(db.Gorm),
		SyncPairs: repository.NewSyncPairRepository(db.Gorm),
		Tx:        repository.NewTransactor(db.Gorm),
	}
	policy := service.NewSyncPairPolicy(repos, repository.NewSyncJobRepository(db.SQL))

	pair := &models.SyncPair{
		UserID:         *userID,
		FromCalendarID: *fromID,
		ToCalendarID:   *toID,
	}

	if err := policy.Create(context.Background(), pair); err != nil {
		var verrs service.ValidationErrors
		if errors.As(err, &verrs) {
			for field, messages := range verrs {
				for _, msg := range messages {
					fmt.Fprintf(os.Stderr, "%s: %s\n", field, msg)
				}
			}
			return service.ErrInvalidSyncPair
		}
		return err
	}

	fmt.Printf("Created sync pair %d\n", pair.ID)
	return nil
}
