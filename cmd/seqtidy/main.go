// Copyright (C) The seqtidy Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package main

import "github.com/tidytool/seqtidy"

func main() {
	seqtidy.Main()
}
