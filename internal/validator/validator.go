// Package validator is the command safety gate: Validate is a blacklist-only,
// permit-by-default regex policy that rejects destructive, power-control,
// firewall, package-management, in-place-rewrite, and self-protection
// command patterns; ValidateReadOnly is a stricter allowlist for the
// Analyzer's diagnostic tool, which may only observe, never change, state.
package validator

import (
	"regexp"
	"strings"
)

// Risk is an informational classification; only Verdict.OK gates execution.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// Verdict is the result of validating one proposed command.
type Verdict struct {
	OK     bool
	Reason string
	Risk   Risk
}

type rule struct {
	pattern *regexp.Regexp
	reason  string
	risk    Risk
}

// selfNames are names the service, its database, its container, or its host
// might be known by; self-protection rules must match any surface form.
var selfNames = []string{"jarvis", "jarvis-db", "jarvis-postgres"}

var rules = buildRules()

func buildRules() []rule {
	var rs []rule
	add := func(pattern, reason string, risk Risk) {
		rs = append(rs, rule{pattern: regexp.MustCompile(pattern), reason: reason, risk: risk})
	}

	// self-protection: checked first and rejects regardless of syntax.
	for _, name := range selfNames {
		q := regexp.QuoteMeta(name)
		add(`(?i)\b(systemctl|service)\s+(stop|restart|disable)\s+`+q+`\b`, "self_protection_service", RiskHigh)
		add(`(?i)\bdocker(\s+container)?\s+(stop|restart|rm|kill)\b.*\b`+q+`\b`, "self_protection_container", RiskHigh)
		add(`(?i)\b(podman)\s+(stop|restart|rm|kill)\b.*\b`+q+`\b`, "self_protection_container", RiskHigh)
		add(`(?i)\bkill(all)?\s+(-\w+\s+)?.*\b`+q+`\b`, "self_protection_process", RiskHigh)
	}
	add(`(?i)\b(systemctl|service)\s+(stop|restart)\s+(postgresql|postgres)\b`, "self_protection_database", RiskHigh)
	add(`(?i)\b(docker|podman)\s+(stop|restart|rm|kill)\b.*\b(postgres|postgresql|jarvis.?db)\b`, "self_protection_database", RiskHigh)
	add(`(?i)\b(systemctl|service)\s+(stop|restart)\s+(docker|containerd|podman|crio)\b`, "self_protection_runtime", RiskHigh)
	add(`(?i)\b(systemctl|service)\s+(stop|restart|poweroff|halt)\s+(--force\s+)?$`, "self_protection_host", RiskHigh)

	// destructive
	add(`(?i)\brm\s+.*-[a-z]*r[a-z]*f|\brm\s+.*-[a-z]*f[a-z]*r\b`, "destructive_rm_rf", RiskHigh)
	add(`(?i)\bmkfs(\.\w+)?\b`, "destructive_mkfs", RiskHigh)
	add(`(?i)\bdd\s+.*\bof=/dev/`, "destructive_dd_block_device", RiskHigh)
	add(`(?i)\bshred\b`, "destructive_shred", RiskHigh)

	// power / reboot
	add(`(?i)\b(reboot|poweroff|halt)\b`, "power_reboot", RiskHigh)
	add(`(?i)\bshutdown\b`, "power_shutdown", RiskHigh)

	// firewall / network rewrite
	add(`(?i)\biptables\b`, "firewall_iptables", RiskHigh)
	add(`(?i)\bip6tables\b`, "firewall_ip6tables", RiskHigh)
	add(`(?i)\bnft\b`, "firewall_nftables", RiskHigh)
	add(`(?i)\bufw\b`, "firewall_ufw", RiskHigh)
	add(`(?i)\bfirewall-cmd\b`, "firewall_firewalld", RiskHigh)

	// package management
	add(`(?i)\b(apt|apt-get)\b`, "package_apt", RiskMedium)
	add(`(?i)\byum\b`, "package_yum", RiskMedium)
	add(`(?i)\bdnf\b`, "package_dnf", RiskMedium)
	add(`(?i)\bapk\b`, "package_apk", RiskMedium)
	add(`(?i)\bpacman\b`, "package_pacman", RiskMedium)

	// in-place file rewrite
	add(`(?i)\bsed\s+(-\w*i\w*|--in-place)\b`, "inplace_sed", RiskMedium)
	add(`(?i)\bawk\s+-i\s*inplace\b`, "inplace_awk", RiskMedium)
	add(`>\s*/etc/`, "inplace_redirect_etc", RiskMedium)
	add(`>\s*/boot/`, "inplace_redirect_boot", RiskMedium)

	return rs
}

// Validate checks command against the blacklist and returns a Verdict.
// Unmatched commands are permitted (permit-by-default) at RiskLow.
func Validate(command string) Verdict {
	for _, r := range rules {
		if r.pattern.MatchString(command) {
			return Verdict{OK: false, Reason: r.reason, Risk: r.risk}
		}
	}
	return Verdict{OK: true, Risk: RiskLow}
}

// readOnlyAllowlist is the full set of command shapes the diagnostic tool
// may run; anything else is rejected regardless of Validate's blacklist.
// Output redirection is never permitted, even for an otherwise-allowed verb.
var readOnlyAllowlist = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^docker\s+(ps|logs|inspect)\b`),
	regexp.MustCompile(`(?i)^podman\s+(ps|logs|inspect)\b`),
	regexp.MustCompile(`(?i)^systemctl\s+status\b`),
	regexp.MustCompile(`(?i)^curl\s+(-\S+\s+)*-I\b`),
	regexp.MustCompile(`(?i)^journalctl\b`),
	regexp.MustCompile(`(?i)^ps\b`),
	regexp.MustCompile(`(?i)^df\b`),
	regexp.MustCompile(`(?i)^free\b`),
	regexp.MustCompile(`(?i)^ls\b`),
	regexp.MustCompile(`(?i)^cat\b`),
	regexp.MustCompile(`(?i)^uptime\b`),
}

var redirectPattern = regexp.MustCompile(`[|;&]|>{1,2}`)

// ValidateReadOnly accepts only the fixed set of diagnostic command shapes in
// readOnlyAllowlist, rejecting everything else by default (including any
// shell redirection or chaining, even within an allowed verb).
func ValidateReadOnly(command string) Verdict {
	trimmed := strings.TrimSpace(command)
	if redirectPattern.MatchString(trimmed) {
		return Verdict{OK: false, Reason: "read_only_violation", Risk: RiskMedium}
	}
	for _, re := range readOnlyAllowlist {
		if re.MatchString(trimmed) {
			if v := Validate(trimmed); !v.OK {
				return v
			}
			return Verdict{OK: true, Risk: RiskLow}
		}
	}
	return Verdict{OK: false, Reason: "read_only_violation", Risk: RiskMedium}
}
