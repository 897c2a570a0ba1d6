package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"go.uber.org/zap"

	"mq-rpc/internal/sample"
	"mq-rpc/server"
)

func serveCommand(c *cli.Context) error {
	e, err := newEnv(c)
	if err != nil {
		return err
	}
	defer e.close()

	var servers []*server.Server
	start := func(queue string, ifacePtr, impl any) error {
		s, err := e.startServer(queue, ifacePtr, impl)
		if err != nil {
			return err
		}
		servers = append(servers, s)
		e.logger.Info("serving", zap.String("queue", queue), zap.String("service", s.Descriptor().ClassName))
		return nil
	}

	service := c.String("service")
	single := func(name string) string {
		if q := e.cfg.Server.Queue; q != "" {
			return q
		}
		return name
	}
	switch service {
	case "calculator":
		err = start(single(calculatorQueue), (*sample.Calculator)(nil), sample.NewCalculator())
	case "people":
		err = start(single(peopleQueue), (*sample.PersonRepository)(nil), sample.NewPersonRepository())
	case "all":
		if err = start(calculatorQueue, (*sample.Calculator)(nil), sample.NewCalculator()); err == nil {
			err = start(peopleQueue, (*sample.PersonRepository)(nil), sample.NewPersonRepository())
		}
	default:
		err = errors.Errorf("unknown service %q", service)
	}
	if err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	dead := make(chan error, len(servers))
	for _, s := range servers {
		go func(s *server.Server) { dead <- s.Wait() }(s)
	}
	select {
	case <-sig:
		e.logger.Info("shutting down")
		return nil
	case err := <-dead:
		return errors.Wrap(err, "server stopped")
	}
}

func addCommand(c *cli.Context) error {
	if c.NArg() != 2 {
		return errors.New("usage: add A B")
	}
	a, err := strconv.Atoi(c.Args().Get(0))
	if err != nil {
		return errors.Wrap(err, "parsing A")
	}
	b, err := strconv.Atoi(c.Args().Get(1))
	if err != nil {
		return errors.Wrap(err, "parsing B")
	}

	e, err := newEnv(c)
	if err != nil {
		return err
	}
	defer e.close()
	calc, err := e.calculator()
	if err != nil {
		return err
	}
	ctx := context.Background()
	sum, err := calc.Add(ctx, a, b).Get(ctx)
	if err != nil {
		return err
	}
	fmt.Println(sum)
	return nil
}

func sleepCommand(c *cli.Context) error {
	millis, err := strconv.Atoi(c.Args().First())
	if err != nil {
		return errors.Wrap(err, "parsing MILLIS")
	}
	e, err := newEnv(c)
	if err != nil {
		return err
	}
	defer e.close()
	calc, err := e.calculator()
	if err != nil {
		return err
	}
	ctx := context.Background()
	started := time.Now()
	if _, err := calc.LongOperation(ctx, millis).Get(ctx); err != nil {
		return err
	}
	fmt.Printf("done in %v\n", time.Since(started).Round(time.Millisecond))
	return nil
}

// withPeople runs fn against a bound person repository.
func withPeople(c *cli.Context, fn func(ctx context.Context, repo *sample.PersonRepositoryClient) error) error {
	e, err := newEnv(c)
	if err != nil {
		return err
	}
	defer e.close()
	repo, err := e.people()
	if err != nil {
		return err
	}
	return fn(context.Background(), repo)
}

func printPeople(people []sample.Person) {
	for i, p := range people {
		fmt.Printf("%d\t%s\n", i, p)
	}
}

func peopleListCommand(c *cli.Context) error {
	return withPeople(c, func(ctx context.Context, repo *sample.PersonRepositoryClient) error {
		people, err := repo.GetPeople(ctx).Get(ctx)
		if err != nil {
			return err
		}
		printPeople(people)
		return nil
	})
}

func peopleGetCommand(c *cli.Context) error {
	index, err := strconv.Atoi(c.Args().First())
	if err != nil {
		return errors.Wrap(err, "parsing INDEX")
	}
	return withPeople(c, func(ctx context.Context, repo *sample.PersonRepositoryClient) error {
		person, err := repo.GetPerson(ctx, index).Get(ctx)
		if err != nil {
			return err
		}
		if person == nil {
			fmt.Println("null")
			return nil
		}
		fmt.Println(person)
		return nil
	})
}

func peopleIDsCommand(c *cli.Context) error {
	ids := make([]int, 0, c.NArg())
	for _, arg := range c.Args() {
		id, err := strconv.Atoi(arg)
		if err != nil {
			return errors.Wrapf(err, "parsing index %q", arg)
		}
		ids = append(ids, id)
	}
	return withPeople(c, func(ctx context.Context, repo *sample.PersonRepositoryClient) error {
		people, err := repo.GetPeopleByIDs(ctx, ids).Get(ctx)
		if err != nil {
			return err
		}
		printPeople(people)
		return nil
	})
}

func peopleAddCommand(c *cli.Context) error {
	if c.NArg() != 2 {
		return errors.New("usage: people add NAME AGE")
	}
	age, err := strconv.Atoi(c.Args().Get(1))
	if err != nil {
		return errors.Wrap(err, "parsing AGE")
	}
	person := sample.Person{Name: c.Args().Get(0), Age: age}
	return withPeople(c, func(ctx context.Context, repo *sample.PersonRepositoryClient) error {
		people, err := repo.AddPerson(ctx, person).Get(ctx)
		if err != nil {
			return err
		}
		printPeople(people)
		return nil
	})
}

func peopleBirthdayCommand(c *cli.Context) error {
	return withPeople(c, func(ctx context.Context, repo *sample.PersonRepositoryClient) error {
		if _, err := repo.IncreasePeopleAgeByOne(ctx).Get(ctx); err != nil {
			return err
		}
		people, err := repo.GetPeople(ctx).Get(ctx)
		if err != nil {
			return err
		}
		printPeople(people)
		return nil
	})
}

func demoCommand(c *cli.Context) error {
	e, err := newEnv(c)
	if err != nil {
		return err
	}
	defer e.close()
	calc, err := e.calculator()
	if err != nil {
		return err
	}
	repo, err := e.people()
	if err != nil {
		return err
	}
	return runDemo(context.Background(), calc, repo)
}

// runDemo exercises every sample procedure once, printing what comes back.
func runDemo(ctx context.Context, calc *sample.CalculatorClient, repo *sample.PersonRepositoryClient) error {
	sum, err := calc.Add(ctx, 2, 3).Get(ctx)
	if err != nil {
		return errors.Wrap(err, "add")
	}
	fmt.Printf("2 + 3 = %d\n", sum)

	if _, err := calc.LongOperation(ctx, 100).Get(ctx); err != nil {
		return errors.Wrap(err, "long operation")
	}
	fmt.Println("long operation finished")

	if _, err := repo.IncreasePeopleAgeByOne(ctx).Get(ctx); err != nil {
		return errors.Wrap(err, "birthday")
	}
	first, err := repo.GetPerson(ctx, 0).Get(ctx)
	if err != nil {
		return errors.Wrap(err, "get person")
	}
	fmt.Println("first:", first)

	people, err := repo.AddPeople(ctx, []sample.Person{
		{Name: "Jane Roe", Age: 31},
		{Name: "Richard Roe", Age: 29},
	}).Get(ctx)
	if err != nil {
		return errors.Wrap(err, "add people")
	}
	printPeople(people)

	picked, err := repo.GetPeopleByIDs(ctx, []int{0, 2}).Get(ctx)
	if err != nil {
		return errors.Wrap(err, "get people by ids")
	}
	fmt.Println("picked:", picked)

	if _, err := repo.GetPerson(ctx, 99).Get(ctx); err != nil {
		fmt.Println("get person 99:", err)
	}
	return nil
}
