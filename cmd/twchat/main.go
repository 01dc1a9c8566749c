// Command twchat is a terminal client for Teamwork Chat: log in once, then
// look people and rooms up, send messages, and stream live events.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/teamwork/chat-go/chat"
	"github.com/teamwork/chat-go/internal/logship"
	"github.com/teamwork/chat-go/internal/rcfile"
	"github.com/teamwork/chat-go/internal/wire"
)

const usage = `Usage: twchat [global flags] <command> [command flags]

Commands:
  login                 log in and persist the session
  whoami                show the logged-in user
  people [-search s]    list people
  rooms [-search s]     list conversations
  send -room id | -handle h -m text
                        send one message
  listen [-rooms ids]   stream live events
  status idle|active    set your status
  logout                invalidate the session

Global flags:
  -installation URL     installation base URL
  -rc path              rc file (default ~/` + rcfile.DefaultName + `)
  -v                    debug logging
  -log-ship URL         ship logs to a redis list
`

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if err := run(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(2)
		}
		log.Fatal().Err(err).Msg("twchat failed")
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("twchat", flag.ContinueOnError)
	global.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	installation := global.String("installation", "", "installation base URL")
	rcPath := global.String("rc", rcfile.DefaultPath(), "rc file path")
	verbose := global.Bool("v", false, "debug logging")
	logShip := global.String("log-ship", "", "redis URL to ship logs to")
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return fmt.Errorf("no command given")
	}

	settings, err := rcfile.Load(*rcPath)
	if err != nil {
		return err
	}
	if *installation != "" {
		settings.Installation = *installation
	}
	if *logShip != "" {
		settings.LogShipURL = *logShip
	}

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr}
	if settings.LogShipURL != "" {
		shipper, err := logship.New(context.Background(), settings.LogShipURL, logship.Options{})
		if err != nil {
			return err
		}
		defer shipper.Close()
		out = zerolog.MultiLevelWriter(out, shipper)
	}
	log.Logger = zerolog.New(out).Level(level).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := &cli{settings: settings, rcPath: *rcPath}
	command, rest := global.Arg(0), global.Args()[1:]
	switch command {
	case "login":
		return app.login(ctx)
	case "whoami":
		return app.whoami(ctx)
	case "people":
		return app.people(ctx, rest)
	case "rooms":
		return app.rooms(ctx, rest)
	case "send":
		return app.send(ctx, rest)
	case "listen":
		return app.listen(ctx, rest)
	case "status":
		return app.status(ctx, rest)
	case "logout":
		return app.logout(ctx)
	default:
		global.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

type cli struct {
	settings *rcfile.Settings
	rcPath   string
}

// session logs in with the resolved settings. Most commands only need the
// REST side, so the socket is opened separately where live traffic matters.
func (c *cli) session(ctx context.Context) (*chat.Session, error) {
	if c.settings.Installation == "" {
		return nil, fmt.Errorf("no installation configured; pass -installation or set TWCHAT_INSTALLATION")
	}
	return chat.From(ctx, chat.Options{
		Installation: c.settings.Installation,
		SocketServer: c.settings.SocketServer,
		Username:     c.settings.Username,
		Password:     c.settings.Password,
		APIKey:       c.settings.APIKey,
		AuthToken:    c.settings.AuthToken,
		Logger:       log.Logger,
	})
}

func (c *cli) login(ctx context.Context) error {
	s, err := c.session(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	user := s.User()
	if err := c.persist(ctx, s); err != nil {
		return err
	}
	fmt.Printf("logged in as @%s (%s %s) at %s\n",
		user.Handle(), user.FirstName(), user.LastName(), c.settings.Installation)
	return nil
}

// persist writes the captured tw-auth into the rc file and snapshots the
// session into the state file so later runs resume without a password.
func (c *cli) persist(ctx context.Context, s *chat.Session) error {
	c.settings.AuthToken = s.AuthToken()
	if err := c.settings.Write(c.rcPath); err != nil {
		return err
	}

	state, err := rcfile.LoadState(c.settings.StateFile)
	if err != nil {
		return err
	}
	entry := &rcfile.UserState{
		User: rcfile.Identity{API: rcfile.APIState{
			Installation: c.settings.Installation,
			Auth:         c.settings.AuthToken,
		}},
	}
	if people, err := s.GetAllPeople(ctx); err == nil {
		for _, p := range people {
			entry.People = append(entry.People, rcfile.PersonState{ID: p.ID(), Handle: p.Handle()})
		}
	}
	if rooms, err := s.GetAllRooms(ctx); err == nil {
		for _, r := range rooms {
			entry.Rooms = append(entry.Rooms, rcfile.RoomState{ID: r.ID(), Type: r.Type(), Title: r.Title()})
		}
	}
	state[rcfile.Key(s.User().ID())] = entry
	return rcfile.SaveState(c.settings.StateFile, state)
}

func (c *cli) whoami(ctx context.Context) error {
	s, err := c.session(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	user := s.User()
	fmt.Printf("@%s\t%s %s\t%s\t#%d\n",
		user.Handle(), user.FirstName(), user.LastName(), user.Email(), user.ID())
	return nil
}

func (c *cli) people(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("people", flag.ContinueOnError)
	search := fs.String("search", "", "search term")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := c.session(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	var people []*chat.Person
	if *search != "" {
		people, err = s.GetPeople(ctx, wire.PeopleFilter{Search: *search}, nil, nil)
	} else {
		people, err = s.GetAllPeople(ctx)
	}
	if err != nil {
		return err
	}
	sort.Slice(people, func(i, j int) bool { return people[i].Handle() < people[j].Handle() })

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "HANDLE\tNAME\tTITLE\tSTATUS")
	for _, p := range people {
		fmt.Fprintf(w, "@%s\t%s %s\t%s\t%s\n", p.Handle(), p.FirstName(), p.LastName(), p.Title(), p.Status())
	}
	return w.Flush()
}

func (c *cli) rooms(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("rooms", flag.ContinueOnError)
	search := fs.String("search", "", "search term")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := c.session(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	var rooms []*chat.Room
	if *search != "" {
		rooms, err = s.GetRooms(ctx, wire.RoomsFilter{Search: *search, IncludeUsers: true}, nil, nil)
	} else {
		rooms, err = s.GetAllRooms(ctx)
	}
	if err != nil {
		return err
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID() < rooms[j].ID() })

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tTITLE\tPEOPLE\tUNREAD")
	for _, r := range rooms {
		handles := make([]string, 0, len(r.People()))
		for _, p := range r.People() {
			handles = append(handles, "@"+p.Handle())
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\n",
			r.ID(), r.Type(), r.Title(), strings.Join(handles, " "), r.UnreadCount())
	}
	return w.Flush()
}

func (c *cli) send(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	roomID := fs.Int64("room", 0, "room id")
	handle := fs.String("handle", "", "recipient handle")
	body := fs.String("m", "", "message text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *body == "" {
		return fmt.Errorf("send: -m is required")
	}
	if (*roomID == 0) == (*handle == "") {
		return fmt.Errorf("send: exactly one of -room or -handle is required")
	}

	s, err := c.session(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.Connect(ctx); err != nil {
		return err
	}

	var msg *chat.Message
	if *roomID != 0 {
		room, err := s.GetRoom(ctx, *roomID)
		if err != nil {
			return err
		}
		msg, err = room.SendMessage(ctx, *body)
		if err != nil {
			return err
		}
	} else {
		person, err := s.GetPersonByHandle(ctx, *handle)
		if err != nil {
			return err
		}
		msg, err = person.SendMessage(ctx, *body)
		if err != nil {
			return err
		}
	}
	fmt.Printf("sent #%d to room %d\n", msg.ID(), msg.Room().ID())
	return nil
}

func (c *cli) listen(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("listen", flag.ContinueOnError)
	roomsFlag := fs.String("rooms", "", "comma-separated room ids to follow")
	if err := fs.Parse(args); err != nil {
		return err
	}
	follow, err := parseIDs(*roomsFlag)
	if err != nil {
		return err
	}

	s, err := c.session(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.Connect(ctx); err != nil {
		return err
	}

	events, cancel := s.Events()
	defer cancel()

	// Message bodies may carry markup; strip it before the terminal sees it.
	sanitize := bluemonday.StrictPolicy()

	fmt.Println("listening; ctrl-c to stop")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			printEvent(ev, follow, sanitize)
		}
	}
}

func printEvent(ev chat.Event, follow map[int64]bool, sanitize *bluemonday.Policy) {
	switch payload := ev.Payload.(type) {
	case *chat.MessageEvent:
		if ev.Name != chat.EventMessage {
			return // aliases of the same message
		}
		if len(follow) > 0 && !follow[payload.Room.ID()] {
			return
		}
		author := "?"
		if a := payload.Message.Author(); a != nil {
			author = a.Handle()
		}
		fmt.Printf("[%d] @%s: %s\n",
			payload.Room.ID(), author, sanitize.Sanitize(payload.Message.Body()))
	case *chat.TypingEvent:
		if len(follow) > 0 && !follow[payload.Room.ID()] {
			return
		}
		if payload.IsTyping && payload.Person != nil {
			fmt.Printf("[%d] @%s is typing\n", payload.Room.ID(), payload.Person.Handle())
		}
	case *chat.DisconnectEvent:
		log.Warn().AnErr("reason", payload.Reason).Msg("disconnected")
	case *chat.ReconnectEvent:
		log.Info().Dur("downtime", payload.Downtime).Msg("reconnected")
	case *chat.ErrorEvent:
		log.Error().Err(payload.Err).Msg("session error")
	}
}

func (c *cli) status(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("status: one argument, idle or active")
	}

	s, err := c.session(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.Connect(ctx); err != nil {
		return err
	}
	if err := s.UpdateStatus(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("status set to %s\n", args[0])
	return nil
}

func (c *cli) logout(ctx context.Context) error {
	s, err := c.session(ctx)
	if err != nil {
		return err
	}
	if err := s.Logout(ctx); err != nil {
		return err
	}

	c.settings.AuthToken = ""
	if err := c.settings.Write(c.rcPath); err != nil {
		return err
	}
	fmt.Println("logged out")
	return nil
}

func parseIDs(s string) (map[int64]bool, error) {
	ids := make(map[int64]bool)
	if s == "" {
		return ids, nil
	}
	for _, part := range strings.Split(s, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid room id %q", part)
		}
		ids[id] = true
	}
	return ids, nil
}
