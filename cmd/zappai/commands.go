package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/kjstillabower/zappai-client/internal/gate"
	"github.com/kjstillabower/zappai-client/internal/locations"
	"github.com/kjstillabower/zappai-client/internal/models"
	"github.com/kjstillabower/zappai-client/internal/session"
	"github.com/kjstillabower/zappai-client/internal/validation"
)

type command struct {
	summary string
	run     func(ctx context.Context, a *app, args []string) error
}

var commandOrder = []string{"login", "logout", "whoami", "locations", "create", "delete", "download", "crops", "predict"}

var commands = map[string]command{
	"login":     {"log in and store the session token", runLogin},
	"logout":    {"forget the stored session token", runLogout},
	"whoami":    {"show the logged-in user", runWhoami},
	"locations": {"list locations (--watch to keep polling)", runLocations},
	"create":    {"create a location", runCreate},
	"delete":    {"delete a location by id", runDelete},
	"download":  {"start the past climate data download for a location", runDownload},
	"crops":     {"list crops (--location to check model readiness)", runCrops},
	"predict":   {"show sowing/harvest predictions for a crop and location", runPredict},
}

func newFlagSet(name string, a *app) *pflag.FlagSet {
	fs := pflag.NewFlagSet("zappai "+name, pflag.ContinueOnError)
	fs.SetOutput(a.out.stderr)
	return fs
}

func runLogin(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("login", a)
	user := fs.StringP("username", "u", "", "account username")
	pass := fs.StringP("password", "p", "", "account password (default: $ZAPPAI_PASSWORD)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *pass == "" {
		*pass = os.Getenv("ZAPPAI_PASSWORD")
	}
	sess, err := a.manager.Login(ctx, *user, *pass)
	if errors.Is(err, session.ErrMissingCredentials) {
		return &exitError{code: 2, err: err}
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out.stdout, "logged in as %s\n", sess.Username)
	return nil
}

func runLogout(ctx context.Context, a *app, _ []string) error {
	if err := a.manager.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out.stdout, "logged out")
	return nil
}

func runWhoami(ctx context.Context, a *app, _ []string) error {
	if _, err := a.require(ctx, gate.ViewUsers); err != nil {
		return err
	}
	sess := a.state.Snapshot().Session
	fmt.Fprintf(a.out.stdout, "%s (id %s)\n", sess.Username, sess.UserID)
	return nil
}

func runLocations(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("locations", a)
	watch := fs.Bool("watch", false, "keep polling and accept delete/download commands on stdin")
	search := fs.String("search", "", "filter by country, name or coordinates")
	interval := fs.Duration("interval", 0, "poll interval (default: locations.poll_interval)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := a.require(ctx, gate.ViewLocations); err != nil {
		return err
	}
	if *watch {
		return watchLocations(ctx, a, *search, durationOr(*interval, a.cfg.PollInterval))
	}

	items, err := a.api.ListLocations(ctx)
	if err != nil {
		return err
	}
	coll := locations.NewCollection(locations.Options{Logger: a.logger})
	coll.Replace(items)
	printLocations(a.out.stdout, coll.Filter(*search))
	return nil
}

func runCreate(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("create", a)
	country := fs.String("country", "", "country name")
	name := fs.String("name", "", "location name")
	lon := fs.Float64("lon", 0, "longitude in [-180, 180]")
	lat := fs.Float64("lat", 0, "latitude in [-90, 90]")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := a.require(ctx, gate.ViewCreateLocation); err != nil {
		return err
	}
	loc, err := a.api.CreateLocation(ctx, models.NewLocation{Country: *country, Name: *name, Longitude: *lon, Latitude: *lat})
	if errors.Is(err, validation.ErrInvalidLocation) {
		return &exitError{code: 2, err: err}
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out.stdout, "created %s (%s, %s)\n", loc.ID, loc.Name, loc.Country)
	return nil
}

func runDelete(ctx context.Context, a *app, args []string) error {
	return mutateOne(ctx, a, "delete", args, func(m *locations.Mutator, id string) error {
		return m.Remove(ctx, id)
	})
}

func runDownload(ctx context.Context, a *app, args []string) error {
	return mutateOne(ctx, a, "download", args, func(m *locations.Mutator, id string) error {
		return m.MarkInProgress(ctx, id)
	})
}

// mutateOne loads the current list into a collection and applies one optimistic
// mutation to it, the same path the watch loop uses.
func mutateOne(ctx context.Context, a *app, name string, args []string, apply func(*locations.Mutator, string) error) error {
	if len(args) != 1 {
		return &exitError{code: 2, err: fmt.Errorf("usage: zappai %s ID", name)}
	}
	if _, err := a.require(ctx, gate.ViewLocations); err != nil {
		return err
	}
	items, err := a.api.ListLocations(ctx)
	if err != nil {
		return err
	}
	coll := locations.NewCollection(locations.Options{Logger: a.logger})
	coll.Replace(items)
	if err := apply(locations.NewMutator(a.api, coll, a.logger), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(a.out.stdout, "%s %s: ok\n", name, args[0])
	return nil
}

func runCrops(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("crops", a)
	locationID := fs.String("location", "", "location id to check model readiness for")
	if err := fs.Parse(args); err != nil {
		return err
	}
	view := gate.ViewLocations
	if *locationID != "" {
		view = gate.View(string(gate.ViewChooseCrop) + "/" + *locationID)
	}
	d, err := a.require(ctx, view)
	if err != nil {
		return err
	}
	if d.View == gate.ViewChooseCrop {
		loc, err := a.api.GetLocation(ctx, d.Param)
		if err != nil {
			return err
		}
		ready, err := a.api.IsModelReady(ctx, d.Param)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out.stdout, "%s, %s: model ready: %t, last climate data: %s\n", loc.Name, loc.Country, ready, loc.LastClimateData())
	}
	crops, err := a.api.ListCrops(ctx)
	if err != nil {
		return err
	}
	for _, c := range crops {
		fmt.Fprintln(a.out.stdout, c.Name)
	}
	return nil
}

func runPredict(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("predict", a)
	crop := fs.String("crop", "", "crop name")
	locationID := fs.String("location", "", "location id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *crop == "" || *locationID == "" {
		return &exitError{code: 2, err: errors.New("usage: zappai predict --crop NAME --location ID")}
	}
	if _, err := a.require(ctx, gate.ViewPredictions); err != nil {
		return err
	}
	p, err := a.api.GetPredictions(ctx, *crop, *locationID)
	if err != nil {
		return err
	}
	printPredictions(a.out.stdout, p)
	return nil
}

func printLocations(w io.Writer, items []models.Location) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCOUNTRY\tNAME\tLON\tLAT\tMODEL\tCLIMATE DATA")
	for _, l := range items {
		climate := l.LastClimateData()
		if l.IsDownloadingPastClimateData {
			climate = "downloading"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			l.ID, l.Country, l.Name,
			strconv.FormatFloat(l.Longitude, 'f', -1, 64),
			strconv.FormatFloat(l.Latitude, 'f', -1, 64),
			readyLabel(l.IsModelReady), climate)
	}
	_ = tw.Flush()
}

func readyLabel(ready bool) string {
	if ready {
		return "ready"
	}
	return "not ready"
}

func printPredictions(w io.Writer, p models.Predictions) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SOWING\tHARVEST\tMONTHS\tYIELD/HA")
	for _, c := range p.BestCombinations {
		fmt.Fprintf(tw, "%d/%d\t%d/%d\t%d\t%.2f\n",
			c.SowingMonth, c.SowingYear, c.HarvestMonth, c.HarvestYear, c.Duration, c.EstimatedYieldPerHectar)
	}
	_ = tw.Flush()
	if n := len(p.Forecast); n > 0 {
		first, last := p.Forecast[0], p.Forecast[n-1]
		fmt.Fprintf(w, "forecast: %d months (%d/%d to %d/%d)\n", n, first.Month, first.Year, last.Month, last.Year)
	}
}

// durationOr returns d, or fallback when d is not positive.
func durationOr(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
