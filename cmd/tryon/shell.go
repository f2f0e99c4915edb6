package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"tryonapi/orchestrator"
)

const shellHelp = `commands:
  subject <path>     pick the photo of the person
  garment <path>     pick the clothing image
  run [n]            generate n images (1-4)
  select <i>         keep candidate i of the last result
  retry              free retry of the last result
  history            list saved try-ons
  clear              delete all saved try-ons
  reset              clear both selections
  quit`

func extensionFor(data []byte) string {
	switch http.DetectContentType(data) {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	}
	return ".png"
}

// runShell keeps one orchestrator alive across commands so that results stay
// available for select and retry.
func runShell(ctx context.Context, a *app, in io.Reader, out io.Writer) int {
	scanner := bufio.NewScanner(in)
	var last *orchestrator.Result

	report := func(result *orchestrator.Result) {
		last = result
		paths, err := writeCandidates(".", result)
		if err != nil {
			fmt.Fprintln(out, err)
			return
		}
		for i, path := range paths {
			fmt.Fprintf(out, "[%d] %s\n", i, path)
		}
		if result.SaveErr != nil {
			fmt.Fprintf(out, "not saved to history: %v\nsave it with: select 0\n", result.SaveErr)
		} else if !result.Committed {
			fmt.Fprintln(out, "pick one with: select <i>")
		}
		fmt.Fprintf(out, "free retries left: %d\n", a.orchestrator.FreeRetriesLeft(result.ID))
	}

	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			fmt.Fprint(out, "> ")
			continue
		}
		switch fields[0] {
		case "subject", "garment":
			if len(fields) < 2 {
				fmt.Fprintln(out, shellHelp)
				break
			}
			asset, err := loadAsset(fields[1])
			if err != nil {
				fmt.Fprintln(out, err)
				break
			}
			if fields[0] == "subject" {
				a.orchestrator.SetSubject(asset)
			} else {
				a.orchestrator.SetGarment(asset)
			}
			fmt.Fprintf(out, "%s: %dx%d\n", fields[0], asset.Width, asset.Height)
		case "run":
			count := 1
			if len(fields) > 1 {
				if n, err := strconv.Atoi(fields[1]); err == nil {
					count = n
				}
			}
			result, err := a.orchestrator.TryOn(ctx, count)
			if err != nil {
				printFailure(err)
				break
			}
			report(result)
		case "select":
			if last == nil || len(fields) < 2 {
				fmt.Fprintln(out, "nothing to select")
				break
			}
			index, err := strconv.Atoi(fields[1])
			if err != nil {
				fmt.Fprintln(out, err)
				break
			}
			if _, err := a.orchestrator.Select(ctx, last.ID, index); err != nil {
				printFailure(err)
				break
			}
			fmt.Fprintln(out, "saved to history")
		case "retry":
			if last == nil {
				fmt.Fprintln(out, "nothing to retry")
				break
			}
			result, err := a.orchestrator.FreeRetry(ctx, last.ID)
			if err != nil {
				printFailure(err)
				break
			}
			report(result)
		case "history":
			listHistory(ctx, a)
		case "clear":
			if err := a.store.Clear(ctx); err != nil {
				fmt.Fprintln(out, err)
			}
		case "reset":
			a.orchestrator.Reset()
			last = nil
		case "quit", "exit":
			return 0
		default:
			fmt.Fprintln(out, shellHelp)
		}
		fmt.Fprint(out, "> ")
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
