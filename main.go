/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "github.com/natours/authserver/cmd"

func main() {
	cmd.Execute()
}
