// Package secrets redacts credentials from source code and test logs before
// they leave the machine in a reflection prompt.
//
// Detection is regex based with optional keyword gating. Findings keep the
// rule ID, line and byte span but never the matched text.
package secrets
