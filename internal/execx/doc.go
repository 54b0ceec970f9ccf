// Package execx runs external commands on behalf of the provisioning
// pipeline.
//
// Every shell-out (dnf, uname, wget, mount, cp, umount, the vendor installer
// and reboot) goes through the Executor interface so that tests can
// substitute the recorder from package exectest and assert on the exact
// argument vectors without touching the host.
//
// Commands are executed directly, never through a shell: arguments are
// passed verbatim and no glob or substitution is performed.
package execx
