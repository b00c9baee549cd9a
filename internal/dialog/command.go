package dialog

import (
	"fmt"
	"sort"
	"strings"
)

// Importance buckets commands for help layout: common and interesting
// commands are listed first, advanced and debugging ones under a separate
// heading.
type Importance int

const (
	ImportanceCommon Importance = iota
	ImportanceInteresting
	ImportanceAdvanced
	ImportanceDebugging
)

// Command is one entry of a CommandDialog's table.
type Command struct {
	// Handler receives everything after the command word.
	Handler func(args string) error
	// Help prints the long help; when nil, ShortHelp and the syntax line
	// are used instead.
	Help       func()
	ShortHelp  string
	Syntax     string // argument spec shown in help, e.g. "nick [text]"
	Importance Importance
}

type subdialog struct {
	dialog    *CommandDialog
	shortHelp string
}

// CommandDialog parses "command args" messages against a registration table.
// Sub-dialogs route a keyword prefix into a nested table; aliases map
// alternative names onto canonical commands.
type CommandDialog struct {
	send    func(string)
	parent  *CommandDialog
	prefix  string
	header  string
	unknown func(cmd, args string)

	commands map[string]*Command
	order    []string
	aliases  map[string]string
	subs     map[string]*subdialog
	subOrder []string
}

// NewCommandDialog creates an empty command table replying through send.
func NewCommandDialog(send func(string)) *CommandDialog {
	return &CommandDialog{
		send:     send,
		commands: map[string]*Command{},
		aliases:  map[string]string{},
		subs:     map[string]*subdialog{},
	}
}

// Register adds a command under a canonical lowercase name.
func (d *CommandDialog) Register(name string, cmd Command) {
	name = strings.ToLower(name)
	if _, dup := d.commands[name]; !dup {
		d.order = append(d.order, name)
	}
	c := cmd
	d.commands[name] = &c
}

// AddAlias makes alias dispatch to the command registered as target.
func (d *CommandDialog) AddAlias(alias, target string) {
	d.aliases[strings.ToLower(alias)] = strings.ToLower(target)
}

// AddSubdialog routes messages starting with keyword into sub. shortHelp may
// be empty to keep the sub-dialog out of the help listing.
func (d *CommandDialog) AddSubdialog(keyword string, sub *CommandDialog, shortHelp string) {
	keyword = strings.ToLower(keyword)
	sub.parent = d
	d.subs[keyword] = &subdialog{dialog: sub, shortHelp: shortHelp}
	d.subOrder = append(d.subOrder, keyword)
}

// SetPrefix sets the command prefix shown in help output (e.g. "!"). Nested
// dialogs inherit the root's prefix.
func (d *CommandDialog) SetPrefix(p string) {
	d.prefix = p
}

// Prefix returns the effective command prefix.
func (d *CommandDialog) Prefix() string {
	if d.parent != nil {
		return d.parent.Prefix() + d.keywordIn(d.parent) + " "
	}
	return d.prefix
}

func (d *CommandDialog) keywordIn(parent *CommandDialog) string {
	for kw, sub := range parent.subs {
		if sub.dialog == d {
			return kw
		}
	}
	return ""
}

// SetHeader sets an introductory line printed before the help listing.
func (d *CommandDialog) SetHeader(h string) {
	d.header = h
}

// SetUnknown replaces the handler for unrecognized commands.
func (d *CommandDialog) SetUnknown(fn func(cmd, args string)) {
	d.unknown = fn
}

// Message sends one reply line to the user.
func (d *CommandDialog) Message(text string) {
	d.send(text)
}

// Messagef is Message with formatting.
func (d *CommandDialog) Messagef(format string, args ...any) {
	d.send(fmt.Sprintf(format, args...))
}

// Recv parses and dispatches one message. Unrecognized commands go to the
// unknown handler.
func (d *CommandDialog) Recv(msg string) {
	handled, _ := d.TryMsg(msg)
	if handled {
		return
	}
	cmd, args := SplitArgs(msg)
	if d.unknown != nil {
		d.unknown(cmd, args)
		return
	}
	d.Messagef("Unknown command: %s. Try %shelp", strings.ToUpper(cmd), d.Prefix())
}

// TryMsg attempts to parse msg as a command and runs it when recognized.
// Callers use it to test whether a channel message is a command before
// deciding to post it. The handler's error, if any, is returned after being
// reported to the user.
func (d *CommandDialog) TryMsg(msg string) (handled bool, err error) {
	name, args := SplitArgs(msg)
	if name == "" {
		return false, nil
	}
	name = strings.ToLower(name)

	if target, ok := d.aliases[name]; ok {
		name = target
	}
	if sub, ok := d.subs[name]; ok {
		sub.dialog.Recv(args)
		return true, nil
	}
	if name == "help" {
		d.showHelp(args)
		return true, nil
	}
	cmd, ok := d.commands[name]
	if !ok {
		return false, nil
	}
	if err := cmd.Handler(args); err != nil {
		d.Messagef("An error has occurred. Sorry. -- %v", err)
		return true, err
	}
	return true, nil
}

// CmdSyntax prints the syntax line for one command.
func (d *CommandDialog) CmdSyntax(name, argSpec string) {
	d.Messagef("Syntax: %s%s %s", d.Prefix(), name, argSpec)
}

// showHelp prints either the long help of one command or the full listing.
func (d *CommandDialog) showHelp(args string) {
	if args != "" {
		d.helpFor(strings.ToLower(strings.TrimSpace(args)))
		return
	}

	if d.header != "" {
		d.Message(d.header)
	}
	main, other := d.helpTopics()
	for _, line := range main {
		d.Message(line)
	}
	if len(other) > 0 {
		d.Message("Other commands:")
		for _, line := range other {
			d.Message(line)
		}
	}
}

func (d *CommandDialog) helpFor(name string) {
	if target, ok := d.aliases[name]; ok {
		name = target
	}
	cmd, ok := d.commands[name]
	if !ok {
		d.Messagef("No help available for: %s", strings.ToUpper(name))
		return
	}
	if cmd.Help != nil {
		cmd.Help()
		return
	}
	if cmd.Syntax != "" {
		d.CmdSyntax(name, cmd.Syntax)
	}
	if cmd.ShortHelp != "" {
		d.Message(cmd.ShortHelp)
	}
}

// helpTopics renders "NAME - short help" lines, split into the main and
// other buckets. Aliases are listed after their targets; sub-dialogs close
// the main bucket.
func (d *CommandDialog) helpTopics() (main, other []string) {
	prefix := d.Prefix()
	line := func(name, help string) string {
		return fmt.Sprintf("%s%s - %s", prefix, strings.ToUpper(name), help)
	}

	for _, name := range d.order {
		cmd := d.commands[name]
		l := line(name, cmd.ShortHelp)
		if cmd.Importance <= ImportanceInteresting {
			main = append(main, l)
		} else {
			other = append(other, l)
		}
	}

	var aliasNames []string
	for alias := range d.aliases {
		aliasNames = append(aliasNames, alias)
	}
	sort.Strings(aliasNames)
	for _, alias := range aliasNames {
		target := d.aliases[alias]
		cmd, ok := d.commands[target]
		if !ok {
			continue
		}
		l := line(alias, cmd.ShortHelp)
		if cmd.Importance <= ImportanceInteresting {
			main = append(main, l)
		} else {
			other = append(other, l)
		}
	}

	for _, kw := range d.subOrder {
		sub := d.subs[kw]
		if sub.shortHelp == "" {
			continue
		}
		main = append(main, line(kw, sub.shortHelp))
	}
	return main, other
}
