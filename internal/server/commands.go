/*
NAME
  commands.go

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package server

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nitrogenlogic/knd/internal/knderr"
	"github.com/nitrogenlogic/knd/internal/lut"
	"github.com/nitrogenlogic/knd/internal/zone"
)

// commandHelp is the table behind the "help" command; order is the order
// replies are printed in.
var commandHelp = []struct {
	name, desc string
}{
	{"bye", "close this connection"},
	{"ver", "report protocol version"},
	{"help", "list commands"},
	{"addzone", "name,x1,y1,z1,x2,y2,z2 - create a zone"},
	{"setzone", "name,attr,value - change one zone attribute, or name,all,x1..z2"},
	{"rmzone", "name - delete a zone"},
	{"clear", "delete all zones"},
	{"zones", "list all zones"},
	{"sub", "subscribe to per-frame zone updates"},
	{"unsub", "cancel subscription to per-frame zone updates"},
	{"getdepth", "request a single depth frame"},
	{"subdepth", "[count] - subscribe to depth frames, optionally budgeted"},
	{"unsubdepth", "cancel depth frame subscription"},
	{"getvideo", "request a single video frame"},
	{"getbright", "request one-shot brightness for all zones"},
	{"tilt", "[deg] - read or set motor tilt"},
	{"fps", "report current processed depth frame rate"},
	{"lut", "[index] - report a depth LUT entry, or the whole table"},
	{"sa", "[index] - report a surface-area LUT entry, or the whole table"},
}

// dispatch parses and executes one command line from c, entirely on the
// event-loop goroutine.
func (s *Server) dispatch(c *client, line string) {
	fields := strings.SplitN(line, " ", 2)
	name := strings.ToLower(strings.TrimSpace(fields[0]))
	var rest string
	if len(fields) > 1 {
		rest = strings.TrimSpace(fields[1])
	}

	switch name {
	case "bye":
		c.send("OK - Goodbye\n")
		s.requestShutdown(c)

	case "ver":
		c.send(fmt.Sprintf("OK - Version %d\n", appVersion))

	case "help":
		c.send(fmt.Sprintf("OK - %d commands (app version %d)\n", len(commandHelp), appVersion))
		for _, h := range commandHelp {
			c.send(fmt.Sprintf("%s - %s\n", h.name, h.desc))
		}

	case "addzone":
		s.cmdAddZone(c, rest)
	case "setzone":
		s.cmdSetZone(c, rest)
	case "rmzone":
		s.cmdRmZone(c, rest)
	case "clear":
		s.cmdClear(c)
	case "zones":
		s.cmdZones(c)
	case "sub":
		s.cmdSub(c)
	case "unsub":
		c.subGlobal = false
		c.send("OK - unsubscribed\n")
	case "getdepth":
		if c.depthBudget == 0 {
			c.depthBudget = 1
		} else if c.depthBudget > 0 {
			c.depthBudget++
		}
		c.send("OK - depth frame requested\n")
	case "subdepth":
		s.cmdSubDepth(c, rest)
	case "unsubdepth":
		c.depthBudget = 0
		c.send("OK - depth unsubscribed\n")
	case "getvideo":
		c.videoSub = true
		s.pl.RequestVideo(true)
		c.send("OK - video frame requested\n")
	case "getbright":
		c.brightSub = true
		s.pl.RequestVideo(true)
		c.send("OK - brightness requested\n")
	case "tilt":
		s.cmdTilt(c, rest)
	case "fps":
		c.send(fmt.Sprintf("OK - %d\n", s.pl.FPS()))
	case "lut":
		s.cmdLUT(c, rest, lutDepth)
	case "sa":
		s.cmdLUT(c, rest, lutSurface)

	case "":
		// Blank command (e.g. a lone terminator): ignore silently.
	default:
		c.send(fmt.Sprintf("ERR - unknown command %q\n", name))
	}
}

func errKind(err error) knderr.Kind {
	if k, ok := knderr.KindOf(err); ok {
		return k
	}
	return knderr.InputInvalid
}

func (s *Server) cmdAddZone(c *client, args string) {
	fields := strings.Split(args, ",")
	if len(fields) != 7 {
		c.send("ERR - addzone requires name,x1,y1,z1,x2,y2,z2\n")
		return
	}
	box, err := parseBox(fields[1:])
	if err != nil {
		c.send(fmt.Sprintf("ERR - %v\n", err))
		return
	}
	z, err := s.cat.Add(fields[0], box[0], box[1], box[2], box[3], box[4], box[5])
	if err != nil {
		c.send(fmt.Sprintf("ERR - %v\n", err))
		return
	}
	c.send("OK - zone added\n")
	s.broadcast("ADD - " + z.FormatFull() + "\n")
}

func (s *Server) cmdSetZone(c *client, args string) {
	fields := strings.SplitN(args, ",", 3)
	if len(fields) < 2 {
		c.send("ERR - setzone requires name,attr,value or name,all,x1..z2\n")
		return
	}
	name := fields[0]
	if strings.EqualFold(fields[1], "all") {
		box := strings.Split(fields[2], ",")
		if len(box) != 6 {
			c.send("ERR - setzone all requires 6 coordinates\n")
			return
		}
		coords, err := parseBox(box)
		if err != nil {
			c.send(fmt.Sprintf("ERR - %v\n", err))
			return
		}
		if err := s.cat.SetBox(name, coords[0], coords[1], coords[2], coords[3], coords[4], coords[5]); err != nil {
			c.send(fmt.Sprintf("ERR - %v\n", err))
			return
		}
		c.send("OK - zone box updated\n")
		return
	}
	if len(fields) != 3 {
		c.send("ERR - setzone requires name,attr,value\n")
		return
	}
	if err := s.cat.SetAttr(name, fields[1], fields[2]); err != nil {
		c.send(fmt.Sprintf("ERR - %v\n", err))
		return
	}
	c.send("OK - zone attribute updated\n")
}

func (s *Server) cmdRmZone(c *client, name string) {
	if name == "" {
		c.send("ERR - rmzone requires a name\n")
		return
	}
	z, ok := s.cat.FindByName(name)
	if !ok {
		c.send(fmt.Sprintf("ERR - zone %q not found\n", name))
		return
	}
	s.broadcast("DEL - " + z.Name + "\n")
	if err := s.cat.Remove(name); err != nil {
		c.send(fmt.Sprintf("ERR - %v\n", err))
		return
	}
	c.send("OK - zone removed\n")
}

func (s *Server) cmdClear(c *client) {
	s.cat.Iterate(func(z *zone.Zone) {
		s.broadcast("DEL - " + z.Name + "\n")
	})
	s.cat.Clear()
	c.send("OK - catalog cleared\n")
}

func (s *Server) cmdZones(c *client) {
	ver := s.cat.Version()
	occ := s.cat.OccupiedCount()
	peakName, peakIdx := s.cat.Peak()
	if peakName == "" {
		peakName = "[none]"
	}
	c.send(fmt.Sprintf("OK - %d zones - Version %d, %d occupied, peak zone is %d %q\n",
		s.cat.Count(), ver, occ, peakIdx, peakName))
	s.cat.Iterate(func(z *zone.Zone) {
		c.send(z.FormatFull() + "\n")
	})
}

func (s *Server) cmdSub(c *client) {
	c.subGlobal = true
	s.cat.Iterate(func(z *zone.Zone) {
		c.send("SUB - " + z.FormatFull() + "\n")
	})
	c.send("OK - subscribed\n")
}

func (s *Server) cmdSubDepth(c *client, arg string) {
	if arg == "" {
		c.depthBudget = -1
		c.send("OK - depth subscribed, unlimited\n")
		return
	}
	n, err := strconv.Atoi(arg)
	if err != nil {
		c.send(fmt.Sprintf("ERR - bad count %q\n", arg))
		return
	}
	if n <= 0 {
		c.depthBudget = -1
	} else {
		c.depthBudget = n
	}
	c.send("OK - depth subscribed\n")
}

func (s *Server) cmdTilt(c *client, arg string) {
	if arg == "" {
		c.send(fmt.Sprintf("OK - %d\n", s.pl.Tilt()))
		return
	}
	deg, err := parseTiltArg(arg)
	if err != nil {
		c.send(fmt.Sprintf("ERR - %v\n", err))
		return
	}
	if deg < -15 {
		deg = -15
	}
	if deg > 15 {
		deg = 15
	}
	if err := s.pl.SetTilt(deg); err != nil {
		c.send(fmt.Sprintf("ERR - %v\n", err))
		return
	}
	c.send(fmt.Sprintf("OK - tilt set to %d\n", deg))
}

type lutKind int

const (
	lutDepth lutKind = iota
	lutSurface
)

func (s *Server) cmdLUT(c *client, arg string, kind lutKind) {
	if arg != "" {
		idx, err := strconv.Atoi(arg)
		if err != nil || idx < 0 || idx >= lut.Size {
			c.send(fmt.Sprintf("ERR - index out of range [0,%d)\n", lut.Size))
			return
		}
		if kind == lutDepth {
			c.send(fmt.Sprintf("OK - %d\n", lut.Depth(idx)))
		} else {
			c.send(fmt.Sprintf("OK - %.2f\n", lut.Surface(idx)))
		}
		return
	}
	c.send(fmt.Sprintf("OK - %d entries\n", lut.Size))
	for i := 0; i < lut.Size; i++ {
		if kind == lutDepth {
			c.send(fmt.Sprintf("%d %d\n", i, lut.Depth(i)))
		} else {
			c.send(fmt.Sprintf("%d %.2f\n", i, lut.Surface(i)))
		}
	}
}

// broadcast queues line to every connected client.
func (s *Server) broadcast(line string) {
	for _, c := range s.clients {
		c.send(line)
	}
}

// parseBox parses six comma-separated integer mm coordinates.
func parseBox(fields []string) ([6]int32, error) {
	var box [6]int32
	for i, f := range fields {
		v, err := strconv.ParseInt(strings.TrimSpace(f), 10, 32)
		if err != nil {
			return box, fmt.Errorf("bad coordinate %q: %w", f, err)
		}
		box[i] = int32(v)
	}
	return box, nil
}
