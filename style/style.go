package style

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

var (
	_signature = color.RGB(242, 103, 18).SprintFunc()
	_plain     = color.New().SprintFunc()
	_bold      = color.New(color.Bold).SprintFunc()
	_subMsg    = color.RGB(150, 150, 150).SprintFunc()
	_info      = color.New(color.FgCyan).SprintFunc()
	_warn      = color.New(color.FgYellow, color.Bold).SprintFunc()
	_warnMsg   = color.New(color.FgYellow).SprintFunc()
	_error     = color.New(color.FgRed, color.Bold).SprintFunc()
	_errorMsg  = color.New(color.FgRed).SprintFunc()
	_success   = color.New(color.FgGreen, color.Bold).SprintFunc()
	_okMsg     = color.New(color.FgGreen).SprintFunc()
)

// Output is swapped for a buffer in tests.
var Output io.Writer = color.Output

var Input io.Reader = os.Stdin

func writeLn(a ...any) {
	fmt.Fprintln(Output, a...)
}

func Signature(format string, a ...any) {
	writeLn(_signature(fmt.Sprintf(format, a...)))
}

func Plain(format string, a ...any) {
	fmt.Fprint(Output, _plain(fmt.Sprintf(format, a...)))
}

func PlainLn(format string, a ...any) {
	writeLn(_plain(fmt.Sprintf(format, a...)))
}

func Bold(format string, a ...any) {
	writeLn(_bold(fmt.Sprintf(format, a...)))
}

func Sub(format string, a ...any) {
	writeLn(_subMsg(fmt.Sprintf(format, a...)))
}

func Prompt(format string, a ...any) {
	fmt.Fprint(Output, _info("\n"+fmt.Sprintf(format, a...)+" "))
}

func InfoLite(format string, a ...any) {
	writeLn(_info("[INFO]"), fmt.Sprintf(format, a...))
}

func Info(format string, a ...any) {
	writeLn(_info("[INFO]"), _info(fmt.Sprintf(format, a...)))
}

func WarnLite(format string, a ...any) {
	writeLn(_warn("[WARN]"), fmt.Sprintf(format, a...))
}

func Warn(format string, a ...any) {
	writeLn(_warn("[WARN]"), _warnMsg(fmt.Sprintf(format, a...)))
}

func ErrLite(format string, a ...any) {
	writeLn(_error("[ERROR]"), fmt.Sprintf(format, a...))
}

func Err(format string, a ...any) {
	writeLn(_error("[ERROR]"), _errorMsg(fmt.Sprintf(format, a...)))
}

func Ok(format string, a ...any) {
	writeLn(_okMsg("[OK]"), fmt.Sprintf(format, a...))
}

func Success(format string, a ...any) {
	writeLn(_success("[SUCCESS]"), _okMsg(fmt.Sprintf(format, a...)))
}

// Confirm prompts and returns true only when the answer is exactly "yes".
func Confirm(format string, a ...any) bool {
	Prompt(format+` (only "yes" will be accepted)`, a...)
	response, _ := bufio.NewReader(Input).ReadString('\n')
	writeLn()
	return strings.TrimSpace(strings.ToLower(response)) == "yes"
}
