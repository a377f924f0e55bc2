//go:build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// Compiles every GLSL stage under shaders/ to SPIR-V next to its source.
func (Build) Shaders() error {
	return buildShaders()
}

// Builds the testbed binary into bin/.
func (Build) Engine() error {
	if _, err := executeCmd("go", withArgs("build", "-o", filepath.Join("bin", "anima-render"), "."), withStream()); err != nil {
		return err
	}
	return nil
}

func buildShaders() error {
	var sources []string
	for _, ext := range []string{"*.vert", "*.frag", "*.comp"} {
		matches, err := filepath.Glob(filepath.Join("shaders", ext))
		if err != nil {
			return err
		}
		sources = append(sources, matches...)
	}
	if len(sources) == 0 {
		fmt.Println("no shaders to compile")
		return nil
	}
	for _, src := range sources {
		ext := filepath.Ext(src)
		out := strings.TrimSuffix(src, ext) + "." + strings.TrimPrefix(ext, ".") + ".spv"
		if fresh(src, out) {
			continue
		}
		if _, err := executeCmd("glslc", withArgs(src, "-o", out), withStream()); err != nil {
			return err
		}
	}
	return nil
}

// fresh reports whether out exists and is newer than src.
func fresh(src, out string) bool {
	si, err := os.Stat(src)
	if err != nil {
		return false
	}
	oi, err := os.Stat(out)
	if err != nil {
		return false
	}
	return oi.ModTime().After(si.ModTime())
}
