// Command chatfaked runs the in-memory fake installation on a local port with
// seeded demo data, so twchat and the library can be exercised without a real
// installation.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/teamwork/chat-go/internal/chattest"
)

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if err := run(os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("chatfaked stopped")
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("chatfaked", flag.ContinueOnError)
	addr := fs.String("addr", "127.0.0.1:8181", "listen address")
	verbose := fs.Bool("v", false, "debug logging, including every frame")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *verbose {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	} else {
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	}

	srv := chattest.New(chattest.Config{Addr: *addr, Logger: log.Logger})
	if err := seed(srv); err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}
	defer srv.Close()

	fmt.Printf(`chatfaked is up at %s

Seeded accounts (password %q):
  @peter  Peter Coulton   peter@example.local
  @mary   Mary Moss       mary@example.local
  @noel   Noel Byrne      noel@example.local

Try:
  twchat -installation %s login   (with TWCHAT_USERNAME=peter TWCHAT_PASSWORD=%s)
  twchat -installation %s people
  twchat -installation %s send -handle mary -m "howya"
  twchat -installation %s listen
`, srv.BaseURL(), demoPassword, srv.BaseURL(), demoPassword, srv.BaseURL(), srv.BaseURL(), srv.BaseURL())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")
	return nil
}

const demoPassword = "demo"

func seed(srv *chattest.Server) error {
	peter, err := srv.AddPerson(chattest.PersonParams{
		Handle:    "peter",
		FirstName: "Peter",
		LastName:  "Coulton",
		Email:     "peter@example.local",
		Title:     "Engineer",
		Password:  demoPassword,
		Company:   "Teamwork",
	})
	if err != nil {
		return err
	}
	mary, err := srv.AddPerson(chattest.PersonParams{
		Handle:    "mary",
		FirstName: "Mary",
		LastName:  "Moss",
		Email:     "mary@example.local",
		Title:     "Designer",
		Password:  demoPassword,
		Company:   "Teamwork",
	})
	if err != nil {
		return err
	}
	noel, err := srv.AddPerson(chattest.PersonParams{
		Handle:    "noel",
		FirstName: "Noel",
		LastName:  "Byrne",
		Email:     "noel@example.local",
		Title:     "Support",
		Password:  demoPassword,
		Company:   "Teamwork",
	})
	if err != nil {
		return err
	}

	pair := srv.AddRoom("pair", "", peter, mary)
	srv.AddMessage(pair, mary, "howya lad")
	ops := srv.AddRoom("private", "ops", peter, mary, noel)
	srv.AddMessage(ops, noel, "deploy went out clean")
	srv.AddMessage(ops, mary, "nice one @noel")
	return nil
}
