package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type commandKind int

const (
	cmdPost commandKind = iota + 1
	cmdReply
	cmdCancel
	cmdDelete
	cmdMore
	cmdExpand
	cmdQuit
)

// command одна команда, прочитанная из stdin
type command struct {
	kind commandKind
	id   int64
	text string
}

var errEmptyCommand = errors.New("empty command")

const usage = `commands:
  post <text>          add a root comment
  reply <id> <text>    reply to a comment
  cancel               drop the pending reply target
  delete <id>          delete a comment
  more                 load the next page of comments
  expand <id>          load the next batch of replies
  quit                 leave the post`

func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, errEmptyCommand
	}

	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(name) {
	case "post":
		if rest == "" {
			return command{}, errors.New("post: text is required")
		}
		return command{kind: cmdPost, text: rest}, nil
	case "reply":
		idArg, text, _ := strings.Cut(rest, " ")
		id, err := parseID("reply", idArg)
		if err != nil {
			return command{}, err
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return command{}, errors.New("reply: text is required")
		}
		return command{kind: cmdReply, id: id, text: text}, nil
	case "cancel":
		return command{kind: cmdCancel}, nil
	case "delete":
		id, err := parseID("delete", rest)
		if err != nil {
			return command{}, err
		}
		return command{kind: cmdDelete, id: id}, nil
	case "more":
		return command{kind: cmdMore}, nil
	case "expand":
		id, err := parseID("expand", rest)
		if err != nil {
			return command{}, err
		}
		return command{kind: cmdExpand, id: id}, nil
	case "quit", "exit":
		return command{kind: cmdQuit}, nil
	default:
		return command{}, fmt.Errorf("unknown command %q", name)
	}
}

func parseID(cmd, arg string) (int64, error) {
	if arg == "" {
		return 0, fmt.Errorf("%s: comment id is required", cmd)
	}
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s: invalid comment id %q", cmd, arg)
	}
	return id, nil
}
