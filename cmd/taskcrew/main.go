// taskcrew runs a squad of autonomous agents against a shared task backlog.
package main

func main() {
	Execute()
}
