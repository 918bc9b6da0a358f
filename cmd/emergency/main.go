// emergency 是熔断运维的命令行入口
//
// 账户冻结和系统熔断只能人工解除，这个工具就是给值班同学用的：
//
//	emergency -addr http://127.0.0.1:8391 status
//	emergency halt -reason "交易所异常"
//	emergency lift
//	emergency unfreeze
//	emergency resume <strategy_id>
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
)

func usage() {
	fmt.Fprintln(os.Stderr, "用法: emergency [-addr http://127.0.0.1:8391] <status|halt|lift|unfreeze|resume> [参数]")
	os.Exit(2)
}

func main() {
	addr := flag.String("addr", "http://127.0.0.1:8391", "运维服务地址")
	reason := flag.String("reason", "运维手动触发", "熔断原因（halt 命令用）")
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}

	client := resty.New().
		SetBaseURL(*addr).
		SetTimeout(10 * time.Second)

	var (
		resp *resty.Response
		err  error
	)
	switch cmd := flag.Arg(0); cmd {
	case "status":
		resp, err = client.R().Get("/status")
	case "halt":
		resp, err = client.R().
			SetBody(map[string]string{"reason": *reason}).
			Post("/halt")
	case "lift":
		resp, err = client.R().Post("/halt/lift")
	case "unfreeze":
		resp, err = client.R().Post("/unfreeze")
	case "resume":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "resume 需要策略 ID")
			os.Exit(2)
		}
		resp, err = client.R().Post("/strategies/" + flag.Arg(1) + "/resume")
	default:
		usage()
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "请求失败: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(resp.String())
	if resp.IsError() {
		os.Exit(1)
	}
}
