/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package version carries build/release metadata for the gateway binary and
// renders it for the CLI header, --version output, and license subcommands.
package version

import (
	"fmt"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"time"
)

type License uint8

const (
	License_None License = iota
	License_MIT
	License_Apache_v2
	License_GNU_GPL_v3
	License_GNU_Affero_GPL_v3
	License_BSD_v3
)

func (l License) String() string {
	switch l {
	case License_MIT:
		return "MIT License"
	case License_Apache_v2:
		return "Apache License 2.0"
	case License_GNU_GPL_v3:
		return "GNU GENERAL PUBLIC LICENSE v3"
	case License_GNU_Affero_GPL_v3:
		return "GNU AFFERO GENERAL PUBLIC LICENSE v3"
	case License_BSD_v3:
		return "BSD 3-Clause License"
	default:
		return "Unspecified License"
	}
}

func (l License) boiler() string {
	switch l {
	case License_MIT:
		return "Permission is hereby granted, free of charge, to any person obtaining a copy of this software."
	case License_Apache_v2:
		return "Licensed under the Apache License, Version 2.0."
	case License_GNU_GPL_v3:
		return "This program is free software: you can redistribute it and/or modify it under the terms of the GNU General Public License."
	case License_GNU_Affero_GPL_v3:
		return "This program is free software: you can redistribute it and/or modify it under the terms of the GNU Affero General Public License."
	case License_BSD_v3:
		return "Redistribution and use in source and binary forms, with or without modification, are permitted."
	default:
		return ""
	}
}

// Version exposes the build/release metadata of a binary.
type Version interface {
	GetPackage() string
	GetDescription() string
	GetBuild() string
	GetRelease() string
	GetAuthor() string
	GetPrefix() string
	GetDate() string
	GetTime() time.Time
	GetAppId() string
	GetRootPackagePath() string
	GetLicenseName() string
	GetLicenseLegal(extra ...License) string
	GetLicenseBoiler(extra ...License) string
	GetLicenseFull(extra ...License) string
	GetHeader() string
	GetInfo() string
	CheckGo(constraint, operator string) bool
}

type vers struct {
	lic  License
	pkg  string
	desc string
	date time.Time
	raw  string
	build string
	release string
	author  string
	prefix  string
	rootPkg string
}

// NewVersion builds a Version from explicit build metadata. dateStr is parsed
// as RFC3339; an unparsable value falls back to time.Now(). rootOf is used
// only for its type, via reflection, to locate the module's root package
// path; numSubPackage trims that many trailing path segments from it.
func NewVersion(lic License, pkg, description, dateStr, build, release, author, prefix string, rootOf interface{}, numSubPackage int) Version {
	t, e := time.Parse(time.RFC3339, dateStr)
	if e != nil {
		t = time.Now()
	}

	root := reflect.TypeOf(rootOf).PkgPath()
	for i := 0; i < numSubPackage; i++ {
		root = filepath.Dir(root)
	}

	if pkg == "" {
		pkg = filepath.Base(root)
	}

	return &vers{
		lic:     lic,
		pkg:     pkg,
		desc:    description,
		date:    t,
		raw:     dateStr,
		build:   build,
		release: release,
		author:  author,
		prefix:  strings.ToUpper(prefix),
		rootPkg: root,
	}
}

func (v *vers) GetPackage() string         { return v.pkg }
func (v *vers) GetDescription() string     { return v.desc }
func (v *vers) GetBuild() string           { return v.build }
func (v *vers) GetRelease() string         { return v.release }
func (v *vers) GetAuthor() string          { return v.author }
func (v *vers) GetPrefix() string          { return v.prefix }
func (v *vers) GetDate() string            { return v.date.Format(time.RFC3339) }
func (v *vers) GetTime() time.Time         { return v.date }
func (v *vers) GetRootPackagePath() string { return v.rootPkg }

func (v *vers) GetAppId() string {
	return fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)
}

func (v *vers) GetLicenseName() string {
	return v.lic.String()
}

func (v *vers) GetLicenseLegal(extra ...License) string {
	lines := []string{v.lic.String()}
	for _, l := range extra {
		lines = append(lines, l.String())
	}
	return strings.Join(lines, ", ")
}

func (v *vers) GetLicenseBoiler(extra ...License) string {
	lines := []string{v.lic.boiler()}
	for _, l := range extra {
		if b := l.boiler(); b != "" {
			lines = append(lines, b)
		}
	}
	return strings.Join(lines, "\n")
}

func (v *vers) GetLicenseFull(extra ...License) string {
	return v.GetLicenseLegal(extra...) + "\n\n" + v.GetLicenseBoiler(extra...)
}

func (v *vers) GetHeader() string {
	return fmt.Sprintf("%s %s (%s) - built %s from %s", v.pkg, v.release, v.build, v.GetDate(), v.author)
}

func (v *vers) GetInfo() string {
	return fmt.Sprintf("%s: %s\nRelease: %s\nBuild: %s\nAuthor: %s\nLicense: %s", v.pkg, v.desc, v.release, v.build, v.author, v.lic.String())
}

func (v *vers) CheckGo(constraint, operator string) bool {
	cur := strings.TrimPrefix(runtime.Version(), "go")
	want := strings.TrimPrefix(constraint, "go")

	c := compareVersions(cur, want)

	switch operator {
	case ">=":
		return c >= 0
	case ">":
		return c > 0
	case "<=":
		return c <= 0
	case "<":
		return c < 0
	case "==", "=":
		return c == 0
	default:
		return false
	}
}

func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")

	for i := 0; i < len(as) || i < len(bs); i++ {
		var av, bv int
		if i < len(as) {
			fmt.Sscanf(as[i], "%d", &av)
		}
		if i < len(bs) {
			fmt.Sscanf(bs[i], "%d", &bv)
		}
		if av != bv {
			return av - bv
		}
	}

	return 0
}
