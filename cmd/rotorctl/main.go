// Rotorctl is the command-line client for monitoring and controlling a
// running rotortrackd instance. It connects over HTTP and WebSocket to query
// status, drive the control loop, and stream live events from the daemon.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/large-farva/rotortrack/internal/ctl"
)

func main() {
	var (
		host    = pflag.StringP("host", "H", "http://127.0.0.1:8080", "Rotortrack daemon URL (e.g. http://192.168.8.1:8080)")
		jsonOut = pflag.Bool("json", false, "Output raw JSON instead of formatted text")
		filter  = pflag.StringSlice("filter", nil, "Event types to show in watch (e.g. --filter state,queue)")
	)

	// Stop parsing global flags at the command name so subcommand flags and
	// negative numbers (setpoint -10 20) are not taken as global flags.
	pflag.CommandLine.SetInterspersed(false)
	pflag.Parse()

	if pflag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cmd := pflag.Arg(0)
	subArgs := pflag.Args()[1:]

	var err error
	switch cmd {
	// ── Query commands ────────────────────────────────────────────
	case "status":
		err = ctl.Status(*host, *jsonOut)

	case "health":
		err = ctl.Health(*host, *jsonOut)

	case "version":
		err = ctl.VersionInfo(*host, *jsonOut)

	case "config":
		err = ctl.Config(*host, *jsonOut)

	case "rotors":
		err = ctl.Rotors(*host, *jsonOut)

	case "satellites":
		opts := ctl.SatellitesOptions{JSON: *jsonOut}
		satFlags := pflag.NewFlagSet("satellites", pflag.ContinueOnError)
		satFlags.BoolVar(&opts.QueuedOnly, "queued", false, "Show only queued satellites")
		_ = satFlags.Parse(subArgs)
		err = ctl.Satellites(*host, opts)

	case "passes":
		opts := ctl.PassesOptions{JSON: *jsonOut}
		passFlags := pflag.NewFlagSet("passes", pflag.ContinueOnError)
		passFlags.IntVar(&opts.Count, "count", 0, "Limit number of passes shown")
		passFlags.IntSliceVar(&opts.NoradIDs, "norad-id", nil, "Satellites to predict (default: the queue)")
		passFlags.Float64Var(&opts.Hours, "hours", 0, "Look-ahead window in hours")
		passFlags.Float64Var(&opts.MinElev, "min-elev", 0, "Minimum peak elevation in degrees")
		_ = passFlags.Parse(subArgs)
		err = ctl.Passes(*host, opts)

	case "tle-info":
		err = ctl.TLEInfo(*host, *jsonOut)

	// ── Control commands ──────────────────────────────────────────
	case "engage":
		err = ctl.Engage(*host, *jsonOut)

	case "disengage":
		err = ctl.Disengage(*host, *jsonOut)

	case "tracking":
		var on bool
		if on, err = onOff(arg(subArgs, 0)); err == nil {
			err = ctl.Tracking(*host, on, *jsonOut)
		}

	case "rotor":
		name := arg(subArgs, 0)
		if name == "" {
			err = fmt.Errorf("rotor: descriptor name required")
			break
		}
		err = ctl.SelectRotor(*host, name, *jsonOut)

	case "tolerance":
		var deg float64
		if deg, err = number(subArgs, 0, "tolerance"); err == nil {
			err = ctl.Tolerance(*host, deg, *jsonOut)
		}

	case "period":
		var ms int
		if ms, err = integer(subArgs, 0, "period"); err == nil {
			err = ctl.Period(*host, ms, *jsonOut)
		}

	case "setpoint":
		var az, el float64
		if az, err = number(subArgs, 0, "setpoint"); err != nil {
			break
		}
		if el, err = number(subArgs, 1, "setpoint"); err == nil {
			err = ctl.Setpoint(*host, az, el, *jsonOut)
		}

	case "queue":
		var id int
		if id, err = integer(subArgs, 0, "queue"); err == nil {
			err = ctl.Enqueue(*host, id, *jsonOut)
		}

	case "dequeue":
		var id int
		if id, err = integer(subArgs, 0, "dequeue"); err == nil {
			err = ctl.Dequeue(*host, id, *jsonOut)
		}

	case "min-contact":
		var (
			id  int
			sec float64
		)
		if id, err = integer(subArgs, 0, "min-contact"); err != nil {
			break
		}
		if sec, err = number(subArgs, 1, "min-contact"); err == nil {
			err = ctl.MinContact(*host, id, sec, *jsonOut)
		}

	case "station":
		var lat, lon, alt float64
		if lat, err = number(subArgs, 0, "station"); err != nil {
			break
		}
		if lon, err = number(subArgs, 1, "station"); err != nil {
			break
		}
		if len(subArgs) > 2 {
			if alt, err = number(subArgs, 2, "station"); err != nil {
				break
			}
		}
		err = ctl.Station(*host, lat, lon, alt, *jsonOut)

	case "tle-refresh":
		err = ctl.TLERefresh(*host, *jsonOut)

	// ── Live streaming ────────────────────────────────────────────
	case "watch":
		opts := ctl.WatchOptions{Filter: *filter, JSON: *jsonOut}
		watchFlags := pflag.NewFlagSet("watch", pflag.ContinueOnError)
		watchFlags.BoolVar(&opts.Reconnect, "reconnect", false, "Keep redialing when the daemon goes away")
		_ = watchFlags.Parse(subArgs)
		err = ctl.Watch(*host, opts)

	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func arg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func number(args []string, i int, cmd string) (float64, error) {
	s := arg(args, i)
	if s == "" {
		return 0, fmt.Errorf("%s: missing argument %d", cmd, i+1)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a number", cmd, s)
	}
	return v, nil
}

func integer(args []string, i int, cmd string) (int, error) {
	s := arg(args, i)
	if s == "" {
		return 0, fmt.Errorf("%s: missing argument %d", cmd, i+1)
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not an integer", cmd, s)
	}
	return v, nil
}

func onOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("tracking: expected on or off, got %q", s)
}

func usage() {
	fmt.Print(`
  rotorctl - Rotortrack control CLI

  USAGE
    rotorctl [flags] <command> [args] [command-flags]

  COMMANDS (query)
    status              Show daemon state, rotor, target and last control frame
    health              Check daemon and component health
    version             Show CLI and daemon version information
    config              Show the daemon's running configuration
    rotors              List rotor descriptors
    satellites          List the satellite catalog
    passes              List upcoming passes
    tle-info            Show TLE cache status and freshness

  COMMANDS (control)
    engage              Connect to the selected rotor and start driving it
    disengage           Stop driving the rotor and close the connection
    tracking on|off     Follow the target or hold the manual setpoint
    rotor NAME          Select a rotor descriptor (while disengaged)
    tolerance DEG       Set the dead-band in degrees (0 to 10)
    period MS           Set the control period in milliseconds
    setpoint AZ EL      Set the manual setpoint in degrees
    queue ID            Add a satellite to the priority queue
    dequeue ID          Remove a satellite from the priority queue
    min-contact ID SEC  Set the minimum usable pass length for a satellite
    station LAT LON [ALT]
                        Move the ground station
    tle-refresh         Force a TLE data update from the network

  COMMANDS (live)
    watch               Stream live events from the daemon (Ctrl-C to stop)

  GLOBAL FLAGS
    -H, --host URL      Daemon base URL (default: http://127.0.0.1:8080)
        --json          Output raw JSON instead of formatted text
        --filter TYPE   Event types to show in watch (comma-separated)

  COMMAND FLAGS
    satellites:
        --queued            Show only queued satellites

    passes:
        --count N           Limit number of passes shown
        --norad-id ID,...   Satellites to predict (default: the queue)
        --hours H           Look-ahead window in hours
        --min-elev DEG      Minimum peak elevation

    watch:
        --reconnect         Keep redialing when the daemon goes away

  EXAMPLES
    rotorctl status
    rotorctl --json status
    rotorctl rotor g5500
    rotorctl engage
    rotorctl tracking on
    rotorctl queue 25544
    rotorctl min-contact 25544 180
    rotorctl passes --norad-id 25544,43017 --hours 12
    rotorctl setpoint 180 45
    rotorctl --host http://192.168.8.1:8080 --filter rotor,state watch --reconnect

`)
}
