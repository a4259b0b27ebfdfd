package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/fako1024/brewster/pkg/brewometer"
	"github.com/fako1024/brewster/pkg/registry"
)

var (
	cyan   = color.New(color.FgCyan).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
)

var deviceColors = map[string]color.Attribute{
	"red":    color.FgRed,
	"green":  color.FgGreen,
	"black":  color.FgHiBlack,
	"purple": color.FgMagenta,
	"orange": color.FgHiYellow,
	"blue":   color.FgBlue,
	"yellow": color.FgYellow,
	"pink":   color.FgHiMagenta,
}

// deviceLabel renders the device name in its display color
func deviceLabel(d brewometer.Device) string {
	attr, ok := deviceColors[strings.ToLower(d.Color)]
	if !ok {
		attr = color.FgCyan
	}
	return color.New(attr, color.Bold).Sprint(d.Name)
}

func printDevice(w io.Writer, d brewometer.Device) {
	state := yellow("idle")
	if d.IsBrewing() {
		state = green(fmt.Sprintf("brewing (brew %d)", d.BrewID))
	}
	fmt.Fprintf(w, "%3d  %-20s %s  %-8s %s\n", d.ID, deviceLabel(d), cyan(d.Address), d.Color, state)
}

func printBrew(w io.Writer, b brewometer.Brew) {
	state := green("active")
	if !b.IsActive() {
		state = "stopped " + brewometer.FormatTime(b.Stopped)
	}
	lastUpdate := "never"
	if !b.LastUpdate.IsZero() {
		lastUpdate = brewometer.FormatTime(b.LastUpdate)
	}
	fmt.Fprintf(w, "%3d  %-24s device %-3d started %s  last update %-16s  %s\n",
		b.ID, b.Name, b.DeviceID, brewometer.FormatTime(b.Started), lastUpdate, state)
}

func printMeasurement(w io.Writer, m brewometer.Measurement) {
	fmt.Fprintln(w, "Time:        ", brewometer.FormatTime(m.TimeStamp))
	fmt.Fprintln(w, "Type:        ", m.Type)
	fmt.Fprintln(w, "Temperature: ", m.Temperature)
	fmt.Fprintln(w, "Measured:    ", m.Tilt)
	fmt.Fprintln(w, "Gravity:     ", green(fmt.Sprintf("%.3f", m.Gravity)))
	fmt.Fprintf(w, "Battery:      %.2fV (%d%%)\n", m.Battery(), m.BatteryPercent())
}

func printRecord(w io.Writer, rec brewometer.Record) {
	fmt.Fprintf(w, "%s  device %-3d  temp %-4d  tilt %-5d  gravity %s  battery %.2fV\n",
		brewometer.FormatTime(rec.TimeStamp), rec.DeviceID, rec.Temperature, rec.Tilt,
		green(fmt.Sprintf("%.3f", rec.Gravity)), rec.Battery())
}

func parseID(arg, what string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid %s: %q", what, arg)
	}
	return id, nil
}

////////////////////////////////////////////////////////////////////////////////

// registrationNamer asks for name and color if attached to a terminal and
// falls back to the defaults otherwise
func registrationNamer(in *os.File, out io.Writer) registry.Namer {
	if !term.IsTerminal(int(in.Fd())) {
		return registry.DefaultNamer{}
	}
	return promptNamer(in, out)
}

func promptNamer(in io.Reader, out io.Writer) registry.Namer {
	reader := bufio.NewReader(in)
	return registry.NamerFunc(func(ctx context.Context, id int64, address string) (string, string, error) {
		defName, defColor, err := registry.DefaultNamer{}.Name(ctx, id, address)
		if err != nil {
			return "", "", err
		}

		name, err := prompt(reader, out, fmt.Sprintf("Name for %s [%s]: ", cyan(address), defName), defName)
		if err != nil {
			return "", "", err
		}
		col, err := prompt(reader, out, fmt.Sprintf("Color (%s) [%s]: ", strings.Join(registry.Colors, ", "), defColor), defColor)
		if err != nil {
			return "", "", err
		}

		return name, strings.ToLower(col), nil
	})
}

func prompt(reader *bufio.Reader, out io.Writer, question, def string) (string, error) {
	fmt.Fprint(out, question)
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}

	if line = strings.TrimSpace(line); line == "" {
		return def, nil
	}
	return line, nil
}
