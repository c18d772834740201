package sandbox

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"
)

// Pre-compiled patterns for parsing test output.
var (
	// Traditional go test output.
	goTestPassRe = regexp.MustCompile(`--- PASS: (\S+) \(([0-9.]+)s\)`)
	goTestFailRe = regexp.MustCompile(`--- FAIL: (\S+) \(([0-9.]+)s\)`)
	goTestSkipRe = regexp.MustCompile(`--- SKIP: (\S+) \(([0-9.]+)s\)`)

	// Pytest summary line, e.g. "2 failed, 3 passed, 1 skipped in 1.23s".
	// Pytest orders the counts by outcome, failures first, so each count
	// is scanned independently rather than positionally.
	pytestSummaryLineRe = regexp.MustCompile(
		`(?m)^.*\d+ (?:passed|failed|skipped|error).* in [0-9.]+s`,
	)
	pytestPassedRe  = regexp.MustCompile(`(\d+) passed`)
	pytestFailedRe  = regexp.MustCompile(`(\d+) failed`)
	pytestSkippedRe = regexp.MustCompile(`(\d+) skipped`)
	pytestErrorRe   = regexp.MustCompile(`(\d+) errors?`)
)

// parseOutput extracts a test summary from run output. The pass/fail
// verdict combines the parsed counts with the process exit code: a
// non-zero exit is a failure even when no counts could be parsed.
func parseOutput(language, output string, exitCode int) (bool, Summary) {
	var summary Summary

	switch strings.ToLower(language) {
	case LanguageGo:
		summary = parseGoTestOutput(output)
	case LanguagePython:
		summary = parsePytestOutput(output)
	default:
		summary = genericSummary(exitCode)
	}

	if summary.Total == 0 {
		summary = genericSummary(exitCode)
	}

	passed := summary.Failed == 0 && exitCode == 0
	return passed, summary
}

func parseGoTestOutput(output string) Summary {
	var summary Summary

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case goTestPassRe.MatchString(line):
			summary.Passed++
		case goTestFailRe.MatchString(line):
			summary.Failed++
		case goTestSkipRe.MatchString(line):
			summary.Skipped++
		}
	}

	summary.Total = summary.Passed + summary.Failed + summary.Skipped
	return summary
}

func parsePytestOutput(output string) Summary {
	var summary Summary

	line := pytestSummaryLineRe.FindString(output)
	if line == "" {
		return summary
	}

	summary.Passed = pytestCount(pytestPassedRe, line)
	summary.Failed = pytestCount(pytestFailedRe, line) + pytestCount(pytestErrorRe, line)
	summary.Skipped = pytestCount(pytestSkippedRe, line)

	summary.Total = summary.Passed + summary.Failed + summary.Skipped
	return summary
}

func pytestCount(re *regexp.Regexp, line string) int {
	match := re.FindStringSubmatch(line)
	if match == nil {
		return 0
	}
	n, _ := strconv.Atoi(match[1])
	return n
}

// genericSummary treats the whole run as one test case when the output
// carries no recognizable counts.
func genericSummary(exitCode int) Summary {
	if exitCode == 0 {
		return Summary{Total: 1, Passed: 1}
	}
	return Summary{Total: 1, Failed: 1}
}
