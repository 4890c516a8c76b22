// Command genhash prints the bcrypt hash to put in INTERNAL_API_TOKEN_HASH.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"lv-tradecore/internal/auth"
)

func main() {
	token := ""
	if len(os.Args) > 1 {
		token = os.Args[1]
	} else {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintln(os.Stderr, "usage: genhash <token>  (or pass the token on stdin)")
			os.Exit(2)
		}
		token = line
	}
	token = strings.TrimSpace(token)
	if token == "" {
		fmt.Fprintln(os.Stderr, "token must not be empty")
		os.Exit(2)
	}
	hash, err := auth.HashInternalToken(token)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(hash)
}
