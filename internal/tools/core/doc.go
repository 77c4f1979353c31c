// Package core provides the built-in filesystem and clock tools.
//
// Tools:
//   - list_files: List directory contents (optionally recursive, glob-filtered)
//   - read_file: Read UTF-8 file contents
//   - create_markdown_note: Write a note under the notes directory
//   - append_to_markdown_note: Append to (or create) a note
//   - get_current_datetime: Report the current date and time
//
// Path arguments are resolved by the registry before the handlers run;
// note paths are derived from titles and resolved here.
package core
