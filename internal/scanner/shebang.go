package scanner

import (
	"bytes"
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/pulseboard/sentinel/internal/threat"
)

// shebangParseLimit bounds how much of a script body is parsed.
const shebangParseLimit = 4 << 10

// checkShebang reports content that starts with "#!". When the body
// parses as shell with at least one command the script is confirmed and
// reported Critical; an interpreter line alone is High.
func checkShebang(data []byte) (threat.Finding, bool) {
	if !bytes.HasPrefix(data, []byte("#!")) {
		return threat.Finding{}, false
	}
	line := data
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	interp := strings.TrimSpace(string(bytes.TrimPrefix(line, []byte("#!"))))

	body := data[len(line):]
	if len(body) > shebangParseLimit {
		body = body[:shebangParseLimit]
	}
	if cmds := countShellCommands(body); cmds > 0 {
		return threat.NewFinding(threat.ScriptSignature, threat.Critical,
			fmt.Sprintf("shell script for %s with %d commands", interp, cmds),
			threat.WithOffset(0), threat.WithFragment(string(line))), true
	}
	return threat.NewFinding(threat.ScriptSignature, threat.High,
		fmt.Sprintf("interpreter line for %s", interp),
		threat.WithOffset(0), threat.WithFragment(string(line))), true
}

// countShellCommands parses body as bash and counts call expressions.
// A body that does not parse counts as zero.
func countShellCommands(body []byte) int {
	parser := syntax.NewParser(syntax.KeepComments(false), syntax.Variant(syntax.LangBash))
	file, err := parser.Parse(bytes.NewReader(body), "")
	if err != nil {
		return 0
	}
	n := 0
	syntax.Walk(file, func(node syntax.Node) bool {
		if call, ok := node.(*syntax.CallExpr); ok && len(call.Args) > 0 {
			n++
		}
		return true
	})
	return n
}
