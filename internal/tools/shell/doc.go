// Package shell provides process execution: the run_python_script tool and
// the command runner used for post-edit verification.
package shell
