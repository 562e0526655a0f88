// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/circkit/circpkg/cmd/circpkg"

func main() {
	cmd.Main()
}
