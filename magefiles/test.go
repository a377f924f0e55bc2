//go:build mage

package main

// Runs the unit tests with the race detector.
func Test() error {
	_, err := executeCmd("go", withArgs("test", "-race", "./..."), withStream())
	return err
}

// Runs go vet over every package.
func Lint() error {
	_, err := executeCmd("go", withArgs("vet", "./..."), withStream())
	return err
}

// Tidies the module.
func Tidy() error {
	_, err := executeCmd("go", withArgs("mod", "tidy"), withStream())
	return err
}
