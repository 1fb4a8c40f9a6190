// Copyright 2022 The Armored Witness OS authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package util

import (
	"bytes"
	"debug/elf"
	"debug/gosym"
	"errors"
	"fmt"

	"github.com/usbarmory/vmpu/vmpu"
)

// box ELF images used to resolve symbols and program counters
var debugTargets [vmpu.MaxBoxes][]byte

// SetDebugTarget sets the ELF image of a box for debugging purposes.
func SetDebugTarget(box int, buf []byte) error {
	if box < 0 || box >= vmpu.MaxBoxes {
		return vmpu.ErrInvalidBox
	}

	debugTargets[box] = buf

	return nil
}

func debugTarget(box int) (*elf.File, error) {
	if box < 0 || box >= vmpu.MaxBoxes || len(debugTargets[box]) == 0 {
		return nil, fmt.Errorf("no debug target for box %d", box)
	}

	return elf.NewFile(bytes.NewReader(debugTargets[box]))
}

// LookupSym returns a symbol from a box ELF image.
func LookupSym(box int, name string) (*elf.Symbol, error) {
	exe, err := debugTarget(box)

	if err != nil {
		return nil, err
	}

	syms, err := exe.Symbols()

	if err != nil {
		return nil, err
	}

	for _, sym := range syms {
		if sym.Name == name {
			return &sym, nil
		}
	}

	return nil, errors.New("symbol not found")
}

func goSymTable(box int) (symTable *gosym.Table, err error) {
	exe, err := debugTarget(box)

	if err != nil {
		return
	}

	text := exe.Section(".text")
	pclntab := exe.Section(".gopclntab")

	if text == nil || pclntab == nil {
		return nil, errors.New("missing Go symbol sections")
	}

	lineTableData, err := pclntab.Data()

	if err != nil {
		return
	}

	lineTable := gosym.NewLineTable(lineTableData, text.Addr)

	var symTableData []byte

	if symtab := exe.Section(".gosymtab"); symtab != nil {
		if symTableData, err = symtab.Data(); err != nil {
			return
		}
	}

	return gosym.NewTable(symTableData, lineTable)
}

// PCToLine resolves a box program counter to its source file and line.
func PCToLine(box int, pc uint64) (s string, err error) {
	symTable, err := goSymTable(box)

	if err != nil {
		return
	}

	file, line, fn := symTable.PCToLine(pc)

	if fn == nil {
		return "", fmt.Errorf("pc %#x not found", pc)
	}

	return fmt.Sprintf("%s:%d", file, line), nil
}
