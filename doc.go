/*
Package swarmcheck checks whether torrents still have a swarm, by scraping UDP trackers (BEP 15)
for their seeders and leechers.

Simple example:

	cl, _ := swarmcheck.NewChecker(swarmcheck.NewDefaultConfig())
	res, _ := cl.Run(context.Background(), []string{"c833bb2b5e7bcb9c07f4c020b4be430c28ba7cdb"}, swarmcheck.RunOpts{})
	for ih, v := range res.Verdicts {
		log.Printf("%v: %v", ih, v)
	}

Each infohash gets one of three verdicts. Alive means some tracker reported seeders or leechers,
and carries the largest counts any tracker reported. Dead means trackers answered and all of them
reported nobody. Failed means no tracker answered, and says nothing about the swarm.
*/
package swarmcheck
