package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"pactchain/auth"
	"pactchain/db"
	"pactchain/kv"
	"pactchain/ledger"
	"pactchain/runtime"
)

const defaultCycleInterval = 6 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store kv.Store
	if connString := os.Getenv("DATABASE_URL"); connString != "" {
		pgStore, err := db.Connect(ctx, connString)
		if err != nil {
			log.Fatalf("bootstrap postgres store: %v", err)
		}
		defer pgStore.Close()
		store = pgStore
	} else {
		store = kv.NewMemory()
	}

	cfg := runtime.Config{
		ExistentialDeposit:      ledger.AmountFromUint32(1),
		MaxAgreementsPerAccount: maxAgreementsFromEnv(),
	}

	node, err := runtime.NewNode(ctx, store, cfg)
	if err != nil {
		log.Fatalf("bootstrap node: %v", err)
	}

	if node.CycleNumber() == 0 {
		genesis := runtime.Genesis{FirstFounder: os.Getenv("FIRST_FOUNDER")}
		if err := node.ApplyGenesis(ctx, genesis); err != nil {
			log.Fatalf("apply genesis: %v", err)
		}
	}

	if err := bootstrapOperator(ctx, store); err != nil {
		log.Fatalf("bootstrap operator: %v", err)
	}

	log.Printf("pactchain node ready: cycle=%d", node.CycleNumber())

	ticker := time.NewTicker(cycleIntervalFromEnv())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("shutting down at cycle %d", node.CycleNumber())
			return
		case <-ticker.C:
			events, err := node.EndCycle(context.Background())
			if err != nil {
				log.Fatalf("end cycle %d: %v", node.CycleNumber(), err)
			}
			for _, ev := range events {
				log.Printf("event seq=%d topic=%s payload=%s", ev.Seq, ev.Topic, ev.Payload)
			}
		}
	}
}

// bootstrapOperator seeds a login identity for the operator when configured,
// tolerating re-runs against an already-seeded store.
func bootstrapOperator(ctx context.Context, store kv.Store) error {
	email := os.Getenv("OPERATOR_EMAIL")
	if email == "" {
		return nil
	}
	sessions := auth.NewService(auth.NewRepository(store), os.Getenv("JWT_SECRET"))
	_, err := sessions.Register(ctx, auth.RegisterRequest{
		Email:      email,
		Passphrase: os.Getenv("OPERATOR_PASSPHRASE"),
	})
	if errors.Is(err, auth.ErrDuplicateEmail) {
		return nil
	}
	return err
}

func maxAgreementsFromEnv() uint32 {
	raw := os.Getenv("MAX_AGREEMENTS_PER_ACCOUNT")
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		log.Fatalf("parse MAX_AGREEMENTS_PER_ACCOUNT: %v", err)
	}
	return uint32(n)
}

func cycleIntervalFromEnv() time.Duration {
	raw := os.Getenv("CYCLE_INTERVAL")
	if raw == "" {
		return defaultCycleInterval
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Fatalf("parse CYCLE_INTERVAL: %v", err)
	}
	return d
}
