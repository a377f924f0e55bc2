//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Runs the testbed in a window on the Vulkan backend.
func (Run) Engine() error {
	mg.Deps(Build.Shaders)
	fmt.Println("Run engine...")
	if _, err := executeCmd("go", withArgs("run", "."), withStream()); err != nil {
		return err
	}
	return nil
}

// Runs a bounded number of frames on the headless backend.
func (Run) Headless() error {
	if _, err := executeCmd("go", withArgs("run", ".", "-headless", "-frames", "600"), withStream()); err != nil {
		return err
	}
	return nil
}
